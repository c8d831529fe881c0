package smartstore

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blowfish"

	"github.com/voyasim/simflow/core"
)

// The commerce API authenticates with a bcrypt signature: the client
// secret Naver issues is itself a bcrypt salt string, and the signature is
// bcrypt("<client_id>_<timestamp_ms>", client_secret) base64-encoded.
// x/crypto/bcrypt cannot hash against a caller-supplied salt, so the
// bcrypt core is reproduced here over x/crypto/blowfish.

// magicText is the 24-byte block classic bcrypt encrypts 64 times.
const magicText = "OrpheanBeholderScryDoubt"

var bcryptEncoding = base64.NewEncoding(
	"./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789",
).WithPadding(base64.NoPadding)

// Sign computes client_secret_sign for the token request.
func Sign(clientID, clientSecret string, timestampMillis int64) (string, error) {
	password := fmt.Sprintf("%s_%d", clientID, timestampMillis)
	hashed, err := bcryptHash([]byte(password), clientSecret)
	if err != nil {
		return "", &core.PlatformError{
			Op:      "smartstore.sign",
			Kind:    core.KindAuthentication,
			Message: "computing client_secret_sign",
			Err:     err,
		}
	}
	return base64.StdEncoding.EncodeToString([]byte(hashed)), nil
}

// bcryptHash hashes password with a full bcrypt salt string
// ("$2a$<cost>$<22-char salt>") and returns the standard
// "$2a$<cost>$<salt><checksum>" form.
func bcryptHash(password []byte, salt string) (string, error) {
	if len(salt) < 29 || salt[0] != '$' || salt[3] != '$' || salt[6] != '$' {
		return "", fmt.Errorf("client secret is not a bcrypt salt")
	}
	version := salt[1:3]
	if version != "2a" && version != "2b" && version != "2y" {
		return "", fmt.Errorf("unsupported bcrypt version %q", version)
	}
	cost, err := strconv.Atoi(salt[4:6])
	if err != nil || cost < 4 || cost > 31 {
		return "", fmt.Errorf("invalid bcrypt cost in client secret")
	}
	encodedSalt := salt[7:29]
	csalt, err := bcryptEncoding.DecodeString(encodedSalt)
	if err != nil {
		return "", fmt.Errorf("decoding bcrypt salt: %w", err)
	}

	// bcrypt appends a terminating zero byte to the key.
	key := append(append([]byte{}, password...), 0)

	c, err := blowfish.NewSaltedCipher(key, csalt)
	if err != nil {
		return "", err
	}
	for i, rounds := 0, 1<<uint(cost); i < rounds; i++ {
		blowfish.ExpandKey(key, c)
		blowfish.ExpandKey(csalt, c)
	}

	cipherData := []byte(magicText)
	for i := 0; i < len(cipherData); i += 8 {
		for j := 0; j < 64; j++ {
			c.Encrypt(cipherData[i:i+8], cipherData[i:i+8])
		}
	}

	// The checksum drops the last ciphertext byte, as classic bcrypt does.
	return fmt.Sprintf("$2a$%02d$%s%s", cost, encodedSalt, bcryptEncoding.EncodeToString(cipherData[:23])), nil
}
