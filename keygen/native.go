package keygen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/wireadmit/wireguard-provisioning-backend/interfaces"
	"github.com/wireadmit/wireguard-provisioning-backend/metrics"
)

// Native generates WireGuard keypairs in process.
type Native struct {
	log *slog.Logger
}

// NewNative creates an in-process key generator.
func NewNative(log *slog.Logger) *Native {
	return &Native{log: log}
}

// Generate returns a fresh keypair derived via wgtypes.
func (g *Native) Generate(ctx context.Context) (interfaces.Keypair, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Keypair{}, fmt.Errorf("%w: %v", interfaces.ErrToolInvocation, err)
	}

	start := time.Now()
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return interfaces.Keypair{}, fmt.Errorf("%w: %v", interfaces.ErrToolInvocation, err)
	}

	kp := interfaces.Keypair{
		PrivateKey: key.String(),
		PublicKey:  key.PublicKey().String(),
	}
	if err := kp.Validate(); err != nil {
		return interfaces.Keypair{}, fmt.Errorf("%w: %v", interfaces.ErrToolInvocation, err)
	}

	metrics.ObserveKeygenDuration(time.Since(start))
	g.log.Debug("Generated keypair in process", slog.String("publicKey", kp.PublicKey))
	return kp, nil
}
