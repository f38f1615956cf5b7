// Command admin is a CLI client for the provisioning admin API: approving
// and rejecting registration requests, listing peers, and removing them.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/wireadmit/wireguard-provisioning-backend/httpserver"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "server-addr",
		Value: "http://127.0.0.1:8080",
		Usage: "base URL of the provisioning API",
	},
	&cli.StringFlag{
		Name:    "admin-token",
		EnvVars: []string{"WIREADMIT_ADMIN_TOKEN"},
		Usage:   "shared admin token",
	},
}

func main() {
	app := &cli.App{
		Name:  "provisioning-admin",
		Usage: "Manage WireGuard peer registrations",
		Commands: []*cli.Command{
			{
				Name:      "approve",
				Usage:     "approve a pending registration request",
				Flags:     commonFlags,
				ArgsUsage: "<user-id> <username>",
				Action: func(cCtx *cli.Context) error {
					return decide(cCtx, true)
				},
			},
			{
				Name:      "reject",
				Usage:     "reject a pending registration request",
				Flags:     commonFlags,
				ArgsUsage: "<user-id> <username>",
				Action: func(cCtx *cli.Context) error {
					return decide(cCtx, false)
				},
			},
			{
				Name:  "remove",
				Usage: "revoke a peer's access and delete its record",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "session",
						Usage: "member session to notify about the removal",
					},
				}, commonFlags...),
				ArgsUsage: "<user-id>",
				Action:    remove,
			},
			{
				Name:   "list",
				Usage:  "list all peer records",
				Flags:  commonFlags,
				Action: list,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func decide(cCtx *cli.Context, approve bool) error {
	if cCtx.NArg() != 2 {
		return fmt.Errorf("expected <user-id> <username>")
	}
	userID, err := parseUserID(cCtx.Args().Get(0))
	if err != nil {
		return err
	}

	body, err := doRequest(cCtx, http.MethodPost, "/api/v1/admin/decision", httpserver.DecisionRequest{
		UserID:   userID,
		Username: cCtx.Args().Get(1),
		Approve:  approve,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func remove(cCtx *cli.Context) error {
	if cCtx.NArg() != 1 {
		return fmt.Errorf("expected <user-id>")
	}
	userID, err := parseUserID(cCtx.Args().Get(0))
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/v1/admin/peers/%d", userID)
	if session := cCtx.String("session"); session != "" {
		path += "?session=" + url.QueryEscape(session)
	}

	body, err := doRequest(cCtx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func list(cCtx *cli.Context) error {
	body, err := doRequest(cCtx, http.MethodGet, "/api/v1/admin/peers", nil)
	if err != nil {
		return err
	}

	var resp httpserver.ListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse listing: %w", err)
	}

	fmt.Printf("%d peer(s)\n", resp.Count)
	for _, peer := range resp.Peers {
		line := fmt.Sprintf("%d\t%s\t%s", peer.UserID, peer.Username, peer.State)
		if peer.Provisioned {
			line += fmt.Sprintf("\t%s\t%s", peer.Address, peer.PublicKey)
		}
		fmt.Println(line)
	}
	return nil
}

func parseUserID(raw string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid user ID %q", raw)
	}
	return id, nil
}

func doRequest(cCtx *cli.Context, method, path string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, cCtx.String("server-addr")+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set(httpserver.AdminTokenHeader, cCtx.String("admin-token"))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed with code %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
