package tools

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/google/uuid"

	"github.com/agentc2/wfrt/pkg/schema"
)

const cryptoHashInputSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "algorithm": {"enum": ["sha256", "sha384", "sha512", "sha1", "md5"]}
  },
  "required": ["data"]
}`

const cryptoHMACInputSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "key": {"type": "string", "minLength": 1},
    "algorithm": {"enum": ["sha256", "sha384", "sha512", "sha1", "md5"]}
  },
  "required": ["data", "key"]
}`

func cryptoTools() []Tool {
	return []Tool{
		{
			Name:        "crypto.hash",
			Description: "Hex digest of data (sha256 by default)",
			InputSchema: json.RawMessage(cryptoHashInputSchema),
			Invoke:      cryptoHash,
		},
		{
			Name:        "crypto.hmac",
			Description: "Hex HMAC of data under key (sha256 by default)",
			InputSchema: json.RawMessage(cryptoHMACInputSchema),
			Invoke:      cryptoHMAC,
		},
		{
			Name:        "crypto.uuid",
			Description: "Generate a random (v4) UUID",
			Invoke: func(context.Context, map[string]any) (any, error) {
				return map[string]any{"uuid": uuid.NewString()}, nil
			},
		},
	}
}

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	case "sha1":
		return sha1.New, nil
	case "md5":
		return md5.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported hash algorithm %q", algorithm)
	}
}

func cryptoHash(_ context.Context, args map[string]any) (any, error) {
	algorithm := stringArg(args, "algorithm", "sha256")
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write([]byte(stringArg(args, "data", "")))
	return map[string]any{"hash": hex.EncodeToString(h.Sum(nil)), "algorithm": algorithm}, nil
}

func cryptoHMAC(_ context.Context, args map[string]any) (any, error) {
	algorithm := stringArg(args, "algorithm", "sha256")
	newHash, err := hashFunc(algorithm)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, []byte(stringArg(args, "key", "")))
	mac.Write([]byte(stringArg(args, "data", "")))
	return map[string]any{"hmac": hex.EncodeToString(mac.Sum(nil)), "algorithm": algorithm}, nil
}
