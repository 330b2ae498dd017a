// Package rtctoken builds media join tokens in the RTC AccessToken "006"
// wire format: version + appID + base64(signed content). The format is
// treated as opaque by everything above the Builder interface.
package rtctoken

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const version = "006"

// RTC privilege keys
const (
	privJoinChannel        = 1
	privPublishAudioStream = 2
	privPublishVideoStream = 3
	privPublishDataStream  = 4
)

// Role determines which privileges a token grants
type Role int

const (
	// RolePublisher may join and publish audio/video/data
	RolePublisher Role = 1
	// RoleSubscriber may only join
	RoleSubscriber Role = 2
)

// Builder issues channel join tokens. Implementations are interchangeable;
// consumers must not inspect the token string.
type Builder interface {
	Build(channel string, uid uint32, role Role, expiresAt time.Time) (string, error)
	AppID() string
}

// HMACBuilder signs tokens with an app certificate using HMAC-SHA256
type HMACBuilder struct {
	appID          string
	appCertificate string
}

// NewHMACBuilder creates a Builder for the given app credentials
func NewHMACBuilder(appID, appCertificate string) (*HMACBuilder, error) {
	if appID == "" || appCertificate == "" {
		return nil, fmt.Errorf("rtctoken: appID and appCertificate are required")
	}
	return &HMACBuilder{appID: appID, appCertificate: appCertificate}, nil
}

// AppID returns the application identifier baked into issued tokens
func (b *HMACBuilder) AppID() string {
	return b.appID
}

// Build issues a token for uid on channel, valid until expiresAt
func (b *HMACBuilder) Build(channel string, uid uint32, role Role, expiresAt time.Time) (string, error) {
	salt, err := randomSalt()
	if err != nil {
		return "", fmt.Errorf("rtctoken: salt generation failed: %w", err)
	}

	privilegeTs := uint32(expiresAt.Unix())
	// Token-level expiry sits 24h out, independent of privilege expiry
	tokenTs := uint32(time.Now().Add(24 * time.Hour).Unix())

	// Privilege map is packed in key order
	keys := []uint16{privJoinChannel}
	if role == RolePublisher {
		keys = append(keys, privPublishAudioStream, privPublishVideoStream, privPublishDataStream)
	}

	var msg byteBuf
	msg.putUint32(salt)
	msg.putUint32(tokenTs)
	msg.putUint16(uint16(len(keys)))
	for _, k := range keys {
		msg.putUint16(k)
		msg.putUint32(privilegeTs)
	}

	crcChannel := crc32.ChecksumIEEE([]byte(channel))
	crcUID := crc32.ChecksumIEEE([]byte(strconv.FormatUint(uint64(uid), 10)))

	var toSign byteBuf
	toSign.putString(b.appID)
	toSign.putUint32(crcChannel)
	toSign.putUint32(crcUID)
	toSign.putBytes(msg.bytes())

	mac := hmac.New(sha256.New, []byte(b.appCertificate))
	mac.Write(toSign.bytes())
	sig := mac.Sum(nil)

	var content byteBuf
	content.putBytes(sig)
	content.putUint32(crcChannel)
	content.putUint32(crcUID)
	content.putBytes(msg.bytes())

	return version + b.appID + base64.StdEncoding.EncodeToString(content.bytes()), nil
}

// DeriveUID maps a user UUID to a stable numeric participant id. Uses the
// last 8 hex digits of the UUID so two members of a channel get distinct ids.
func DeriveUID(userID uuid.UUID) uint32 {
	hex := fmt.Sprintf("%x", [16]byte(userID))
	n, _ := strconv.ParseUint(hex[len(hex)-8:], 16, 64)
	return uint32(n % 2147483647)
}

func randomSalt() (uint32, error) {
	// 1..99999999, matching the reference builder's range
	n, err := rand.Int(rand.Reader, big.NewInt(99999998))
	if err != nil {
		return 0, err
	}
	return uint32(n.Int64()) + 1, nil
}

// byteBuf packs values little-endian with uint16 length prefixes for
// variable-size fields
type byteBuf struct {
	buf []byte
}

func (b *byteBuf) putUint16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

func (b *byteBuf) putUint32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *byteBuf) putBytes(p []byte) {
	b.putUint16(uint16(len(p)))
	b.buf = append(b.buf, p...)
}

func (b *byteBuf) putString(s string) {
	b.putBytes([]byte(s))
}

func (b *byteBuf) bytes() []byte {
	return b.buf
}
