package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

// ErrInvalidSignature is returned when a notification signature does not
// verify.
var ErrInvalidSignature = errors.New("invalid notification signature")

// VerifySignature checks the x-signature header of a webhook delivery.
//
// The header has the form "ts=<unix>,v1=<hex hmac>". The HMAC-SHA256 is
// computed with secret over the manifest
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;", where parts whose value
// is absent are omitted and alphanumeric ids are lowercased.
func VerifySignature(secret, header, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return errors.Wrap(ErrInvalidSignature, "malformed header")
	}

	want, err := hex.DecodeString(v1)
	if err != nil {
		return errors.Wrap(ErrInvalidSignature, "decode v1")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Manifest(dataID, requestID, ts)))
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return nil
}

// Manifest builds the signed string of a webhook delivery.
func Manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}
