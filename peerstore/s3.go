package peerstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
)

// S3Store keeps one JSON object per peer in an S3 or compatible bucket.
// PutObject replaces an object atomically per key, which satisfies the
// replace-by-key requirement for Update.
type S3Store struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Store creates an S3-backed store. endpoint may be empty for AWS
// proper; accessKey/secretKey may be empty when the environment provides
// credentials.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		log:        log,
	}, nil
}

func (s *S3Store) peerKey(id interfaces.UserID) string {
	return path.Join(s.prefix, "peers", id.String()+".json")
}

// Add inserts a new record.
func (s *S3Store) Add(ctx context.Context, peer interfaces.Peer) error {
	existing, err := s.FindByID(ctx, peer.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: user %s", interfaces.ErrDuplicatePeer, peer.UserID)
	}
	return s.put(ctx, peer)
}

// FindByID fetches the record object, or returns nil on a miss.
func (s *S3Store) FindByID(ctx context.Context, id interfaces.UserID) (*interfaces.Peer, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.peerKey(id)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: fetching peer %s: %v", interfaces.ErrStorage, id, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading peer %s: %v", interfaces.ErrStorage, id, err)
	}

	peer, err := unmarshalPeer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}
	return &peer, nil
}

// FindByName scans the peer objects for the first matching username.
func (s *S3Store) FindByName(ctx context.Context, name interfaces.Username) (*interfaces.Peer, error) {
	peers, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, peer := range peers {
		if peer.Username == name {
			p := peer
			return &p, nil
		}
	}
	return nil, nil
}

// Update replaces the record object by key.
func (s *S3Store) Update(ctx context.Context, peer interfaces.Peer) error {
	return s.put(ctx, peer)
}

// Delete removes the record object.
func (s *S3Store) Delete(ctx context.Context, id interfaces.UserID) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.peerKey(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting peer %s: %v", interfaces.ErrStorage, id, err)
	}
	return nil
}

// ListAll fetches every peer object under the prefix.
func (s *S3Store) ListAll(ctx context.Context) ([]interfaces.Peer, error) {
	listPrefix := path.Join(s.prefix, "peers") + "/"

	var peers []interfaces.Peer
	var listErr error
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(listPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			base := strings.TrimSuffix(path.Base(aws.StringValue(obj.Key)), ".json")
			id, err := strconv.ParseInt(base, 10, 64)
			if err != nil {
				continue
			}
			peer, err := s.FindByID(ctx, interfaces.UserID(id))
			if err != nil {
				listErr = err
				return false
			}
			if peer != nil {
				peers = append(peers, *peer)
			}
		}
		return true
	})
	if listErr != nil {
		return nil, listErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing peers: %v", interfaces.ErrStorage, err)
	}
	return peers, nil
}

// Count returns the number of peer objects under the prefix.
func (s *S3Store) Count(ctx context.Context) (int, error) {
	listPrefix := path.Join(s.prefix, "peers") + "/"

	count := 0
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(listPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		count += len(page.Contents)
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting peers: %v", interfaces.ErrStorage, err)
	}
	return count, nil
}

// Name returns an identifier for logging.
func (s *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", s.bucketName)
}

// Close is a no-op for the S3 store.
func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) put(ctx context.Context, peer interfaces.Peer) error {
	data, err := marshalPeer(peer)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStorage, err)
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.peerKey(peer.UserID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: storing peer %s: %v", interfaces.ErrStorage, peer.UserID, err)
	}

	s.log.Debug("Stored peer record in S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", s.peerKey(peer.UserID)))
	return nil
}
