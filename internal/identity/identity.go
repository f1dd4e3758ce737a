// Package identity derives the pseudo set-top-box fingerprint a portal
// expects from a MAC address.
package identity

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentityFormat is returned for a malformed MAC or an explicitly
// supplied serial/device id that does not match the expected shape.
var ErrInvalidIdentityFormat = errors.New("identity: invalid format")

var (
	macPattern      = regexp.MustCompile(`^[0-9A-F]{2}([:-][0-9A-F]{2}){5}$`)
	serialPattern   = regexp.MustCompile(`^[A-Z0-9]{13}$`)
	deviceIDPattern = regexp.MustCompile(`^[0-9A-F]{64}$`)
)

// Identity is immutable once built.
type Identity struct {
	MAC       string
	Serial    string
	DeviceID  string
	DeviceID2 string
	Signature string
	// HWVersion2 is sent as hw_version_2 in get_profile.
	HWVersion2 string
}

// Derive builds an identity whose serial and device id are derived from mac.
func Derive(mac string) (Identity, error) {
	return New(mac, "", "")
}

// New builds an identity. Empty serial or deviceID are derived from mac;
// non-empty ones are validated and upper-cased. The MAC is validated in any
// case or separator style, then hashed and sent trimmed but otherwise as
// supplied.
func New(mac, serial, deviceID string) (Identity, error) {
	if _, err := NormalizeMAC(mac); err != nil {
		return Identity{}, err
	}
	mac = strings.TrimSpace(mac)

	if serial = strings.ToUpper(strings.TrimSpace(serial)); serial == "" {
		serial = DeriveSerial(mac)
	} else if !serialPattern.MatchString(serial) {
		return Identity{}, fmt.Errorf("%w: serial %q must be 13 alphanumeric characters", ErrInvalidIdentityFormat, serial)
	}

	if deviceID = strings.ToUpper(strings.TrimSpace(deviceID)); deviceID == "" {
		deviceID = DeriveDeviceID(mac)
	} else if !deviceIDPattern.MatchString(deviceID) {
		return Identity{}, fmt.Errorf("%w: device id must be 64 hex characters", ErrInvalidIdentityFormat)
	}

	return Identity{
		MAC:        mac,
		Serial:     serial,
		DeviceID:   deviceID,
		DeviceID2:  deviceID,
		Signature:  Sign(mac, serial, deviceID),
		HWVersion2: sha1Hex(mac),
	}, nil
}

// NormalizeMAC trims and upper-cases mac and checks it is six hex octets.
func NormalizeMAC(mac string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(mac))
	if !macPattern.MatchString(m) {
		return "", fmt.Errorf("%w: mac %q", ErrInvalidIdentityFormat, mac)
	}
	return strings.ReplaceAll(m, "-", ":"), nil
}

// DeriveSerial is upper(hex(md5(mac))[:13]).
func DeriveSerial(mac string) string {
	sum := md5.Sum([]byte(mac))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:13])
}

// DeriveDeviceID is upper(hex(sha256(mac))).
func DeriveDeviceID(mac string) string {
	sum := sha256.Sum256([]byte(mac))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Sign is upper(hex(sha256(mac+serial+deviceID))).
func Sign(mac, serial, deviceID string) string {
	sum := sha256.Sum256([]byte(mac + serial + deviceID))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// NewNonce returns a fresh 40-char lowercase hex nonce.
func NewNonce() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// NewToken mints a 32-char token from [A-Z0-9] for the prehash handshake.
func NewToken() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Prehash is hex(sha1(token)), sent alongside a self-minted token.
func Prehash(token string) string {
	return sha1Hex(token)
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
