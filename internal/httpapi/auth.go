package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// upgradeTokenValidity bounds how old a /tun upgrade token may be
// before it is rejected.
const upgradeTokenValidity = 5 * time.Minute

// upgradeTokenPurpose is mixed into the signed message so a token
// minted for the tunnel upgrade handshake can't be replayed against
// some other HMAC-gated endpoint that happens to share the secret.
const upgradeTokenPurpose = "tun-upgrade"

// GenerateUpgradeToken creates an HMAC-SHA256 token in the format
// "hmac:timestamp", for use as the /tun upgrade's optional bearer.
func GenerateUpgradeToken(secret string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := computeHMAC(secret, upgradeTokenPurpose+":"+ts)
	return mac + ":" + ts
}

// ValidateUpgradeToken checks a token produced by GenerateUpgradeToken
// against secret.
func ValidateUpgradeToken(secret, token string) error {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed upgrade token: expected hmac:timestamp")
	}
	mac, tsStr := parts[0], parts[1]

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp in upgrade token: %w", err)
	}

	diff := time.Duration(math.Abs(float64(time.Now().Unix()-ts))) * time.Second
	if diff > upgradeTokenValidity {
		return fmt.Errorf("upgrade token expired: age %v exceeds %v", diff, upgradeTokenValidity)
	}

	expected := computeHMAC(secret, upgradeTokenPurpose+":"+tsStr)
	if !hmac.Equal([]byte(mac), []byte(expected)) {
		return fmt.Errorf("invalid upgrade token signature")
	}
	return nil
}

func computeHMAC(secret, message string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
