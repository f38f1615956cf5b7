package keygen

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/metrics"
)

const (
	// DefaultPoolSize bounds concurrent wg invocations.
	DefaultPoolSize = 4

	// DefaultTimeout is the per-invocation deadline covering both the
	// genkey and pubkey subprocesses.
	DefaultTimeout = 10 * time.Second
)

// WGTool generates keypairs by invoking the wg(8) binary: "wg genkey" for
// the private key and "wg pubkey" for public-key derivation. Invocations
// are bounded by a fixed-size pool and a per-call deadline; expiry is
// reported as a tool-invocation failure.
type WGTool struct {
	binPath string
	timeout time.Duration
	slots   chan struct{}
	log     *slog.Logger
}

// NewWGTool creates a subprocess-backed key generator. An empty binPath
// defaults to "wg"; poolSize and timeout fall back to the package defaults
// when zero.
func NewWGTool(binPath string, poolSize int, timeout time.Duration, log *slog.Logger) *WGTool {
	if binPath == "" {
		binPath = "wg"
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WGTool{
		binPath: binPath,
		timeout: timeout,
		slots:   make(chan struct{}, poolSize),
		log:     log,
	}
}

// Generate runs "wg genkey" and feeds the result to "wg pubkey". The call
// is single-attempt: a non-zero exit, an absent binary, or an expired
// deadline all abort the run with ErrToolInvocation.
func (g *WGTool) Generate(ctx context.Context) (interfaces.Keypair, error) {
	select {
	case g.slots <- struct{}{}:
		defer func() { <-g.slots }()
	case <-ctx.Done():
		return interfaces.Keypair{}, fmt.Errorf("%w: waiting for keygen slot: %v", interfaces.ErrToolInvocation, ctx.Err())
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()

	privateKey, err := g.run(ctx, "", "genkey")
	if err != nil {
		return interfaces.Keypair{}, err
	}

	publicKey, err := g.run(ctx, privateKey+"\n", "pubkey")
	if err != nil {
		return interfaces.Keypair{}, err
	}

	kp := interfaces.Keypair{PrivateKey: privateKey, PublicKey: publicKey}
	if err := kp.Validate(); err != nil {
		return interfaces.Keypair{}, fmt.Errorf("%w: unexpected tool output: %v", interfaces.ErrToolInvocation, err)
	}

	metrics.ObserveKeygenDuration(time.Since(start))
	g.log.Debug("Generated keypair via wg tool",
		slog.String("bin", g.binPath),
		slog.Duration("elapsed", time.Since(start)))
	return kp, nil
}

// run executes one wg subcommand and returns its trimmed stdout.
func (g *WGTool) run(ctx context.Context, stdin, subcommand string) (string, error) {
	cmd := exec.CommandContext(ctx, g.binPath, subcommand)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: wg %s: %v", interfaces.ErrToolInvocation, subcommand, ctxErr)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("%w: wg %s: %s", interfaces.ErrToolInvocation, subcommand, detail)
	}

	return strings.TrimSpace(stdout.String()), nil
}
