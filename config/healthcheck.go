package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const healthcheckPingURL = "https://hc-ping.com"

// GetHealthcheckPingID returns overridePingID if given, else the default.
func GetHealthcheckPingID(defaultPingID, overridePingID string) string {
	if overridePingID != "" {
		return overridePingID
	}
	return defaultPingID
}

// PingHealthcheckForSuccess notifies the healthcheck endpoint of a
// successful job run. No-op when pingID is empty or env is development.
func PingHealthcheckForSuccess(pingID string, message interface{}) {
	pingHealthcheck(pingID, "", message)
}

// PingHealthcheckForFailure notifies the healthcheck endpoint of a failed
// job run. No-op when pingID is empty or env is development.
func PingHealthcheckForFailure(pingID string, message interface{}) {
	pingHealthcheck(pingID, "/fail", message)
}

func pingHealthcheck(pingID, suffix string, message interface{}) {
	if pingID == "" || IsDevelopment() {
		return
	}

	logCtx := log.WithField("ping_id", pingID)

	payload, err := json.Marshal(message)
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal healthcheck payload.")
		payload = []byte{}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/%s%s", healthcheckPingURL, pingID, suffix)
	resp, err := client.Post(url, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		logCtx.WithError(err).Error("Failed to ping healthcheck.")
		return
	}
	defer resp.Body.Close()
}
