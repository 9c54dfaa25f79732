package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/version"
)

// MinSupportedVersion is the oldest instance version whose REST API the
// adapter is known to work with.
const MinSupportedVersion = "1.12.0"

// AboutResponse holds the parsed /flow/about response.
type AboutResponse struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// ParseAboutResponse extracts the version from a /flow/about JSON body.
func ParseAboutResponse(body []byte) (*AboutResponse, error) {
	var envelope struct {
		About AboutResponse `json:"about"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing about response: %w", err)
	}
	if envelope.About.Version == "" {
		return nil, fmt.Errorf("about response missing version field")
	}
	return &envelope.About, nil
}

// Ping status values stored on a ManagedInstance.
const (
	PingOK          = "ok"
	PingUnreachable = "unreachable"
	PingUnsupported = "unsupported"
)

// CheckInstance pings an instance, records the result and the detected
// version on the store, and returns the ping error if any. A version below
// MinSupportedVersion is recorded as unsupported but does not fail.
func CheckInstance(ctx context.Context, n Platform, inst *models.ManagedInstance, store *models.InstanceStore, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	about, err := n.About(ctx)
	if err != nil {
		store.SetPing(inst.ID, PingUnreachable, err.Error(), "")
		log.Warn("instance unreachable", zap.String("instance", inst.Name), zap.Error(err))
		return err
	}
	status := PingOK
	errMsg := ""
	if !version.AtLeast(about.Version, MinSupportedVersion) {
		status = PingUnsupported
		errMsg = fmt.Sprintf("version %s is older than %s", about.Version, MinSupportedVersion)
		log.Warn("instance version unsupported", zap.String("instance", inst.Name), zap.String("version", about.Version))
	} else {
		log.Info("instance reachable", zap.String("instance", inst.Name), zap.String("version", about.Version))
	}
	store.SetPing(inst.ID, status, errMsg, about.Version)
	return nil
}
