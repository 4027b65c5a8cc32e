package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func mustDecodeHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("invalid hex in test data: %v", err)
	}
	return b
}

func repeatByte(b byte) [SecretKeySize]byte {
	var out [SecretKeySize]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func TestGenerateKeyPair(t *testing.T) {
	kp1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	if kp1.Private == nil || kp1.Public == nil {
		t.Fatal("GenerateKeyPair returned nil key material")
	}

	compressed := kp1.Public.SerializeCompressed()
	if len(compressed) != PubKeySize {
		t.Errorf("compressed public key length = %d, want %d",
			len(compressed), PubKeySize)
	}
	if compressed[0] != 0x02 && compressed[0] != 0x03 {
		t.Errorf("compressed public key has prefix 0x%02x, want 0x02 or 0x03",
			compressed[0])
	}

	kp2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("second GenerateKeyPair failed: %v", err)
	}
	if kp1.Public.IsEqual(kp2.Public) {
		t.Error("two generated key pairs share a public key")
	}
}

func TestFromSecretKey(t *testing.T) {
	tests := []struct {
		name       string
		secret     [SecretKeySize]byte
		wantErr    error
		wantPubHex string
	}{
		{
			name:       "valid key",
			secret:     repeatByte(0x11),
			wantPubHex: "034f355bdcb7cc0af728ef3cceb9615d90684bb5b2ca5f859ab0f0b704075871aa",
		},
		{
			name:       "another valid key",
			secret:     repeatByte(0x21),
			wantPubHex: "028d7500dd4c12685d1f568b4c2b5048e8534b873319f3a8daa612b469132ec7f7",
		},
		{
			name:    "zero key rejected",
			secret:  [SecretKeySize]byte{},
			wantErr: ErrInvalidSecretKey,
		},
		{
			name:    "key above group order rejected",
			secret:  repeatByte(0xff),
			wantErr: ErrInvalidSecretKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := FromSecretKey(tt.secret)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FromSecretKey error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromSecretKey failed: %v", err)
			}

			gotPub := kp.Public.SerializeCompressed()
			wantPub := mustDecodeHex(t, tt.wantPubHex)
			if !bytes.Equal(gotPub, wantPub) {
				t.Errorf("derived public key = %x, want %x", gotPub, wantPub)
			}
		})
	}
}

func TestParsePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	valid := kp.Public.SerializeCompressed()

	badX := make([]byte, PubKeySize)
	badX[0] = 0x02
	for i := 1; i < PubKeySize; i++ {
		badX[i] = 0xff
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "valid compressed key", data: valid},
		{name: "truncated key", data: valid[:32], wantErr: true},
		{name: "empty input", data: nil, wantErr: true},
		{name: "uncompressed prefix", data: append([]byte{0x04}, valid[1:]...), wantErr: true},
		{name: "x coordinate not in field", data: badX, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := ParsePublicKey(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPublicKey) {
					t.Fatalf("ParsePublicKey error = %v, want %v", err, ErrInvalidPublicKey)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePublicKey failed: %v", err)
			}
			if !pub.IsEqual(kp.Public) {
				t.Error("parsed key does not match the original")
			}
		})
	}
}

func TestECDHSymmetry(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	ab, err := ECDH(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("ECDH(alice, bob) failed: %v", err)
	}
	ba, err := ECDH(bob.Private, alice.Public)
	if err != nil {
		t.Fatalf("ECDH(bob, alice) failed: %v", err)
	}

	if ab != ba {
		t.Errorf("shared secrets differ: %x vs %x", ab, ba)
	}
	if ab == ([32]byte{}) {
		t.Error("shared secret is all zeros")
	}
}

func TestECDHDeterministic(t *testing.T) {
	alice, err := FromSecretKey(repeatByte(0x11))
	if err != nil {
		t.Fatalf("FromSecretKey failed: %v", err)
	}
	bob, err := FromSecretKey(repeatByte(0x21))
	if err != nil {
		t.Fatalf("FromSecretKey failed: %v", err)
	}

	first, err := ECDH(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("ECDH failed: %v", err)
	}
	second, err := ECDH(alice.Private, bob.Public)
	if err != nil {
		t.Fatalf("repeated ECDH failed: %v", err)
	}
	if first != second {
		t.Errorf("ECDH is not deterministic: %x vs %x", first, second)
	}
}

func TestECDHNilInputs(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	if _, err := ECDH(nil, kp.Public); err == nil {
		t.Error("ECDH with nil private key did not fail")
	}
	if _, err := ECDH(kp.Private, nil); err == nil {
		t.Error("ECDH with nil public key did not fail")
	}
}

func TestSecureWipe(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := SecureWipe(data); err != nil {
		t.Fatalf("SecureWipe failed: %v", err)
	}
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d not wiped: 0x%02x", i, b)
		}
	}

	if err := SecureWipe(nil); err == nil {
		t.Error("SecureWipe(nil) did not fail")
	}

	// Zero-length slices are a no-op, not an error.
	if err := SecureWipe([]byte{}); err != nil {
		t.Errorf("SecureWipe of empty slice failed: %v", err)
	}
}

func TestWipeKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}

	if err := WipeKeyPair(kp); err != nil {
		t.Fatalf("WipeKeyPair failed: %v", err)
	}

	serialized := kp.Private.Serialize()
	for i, b := range serialized {
		if b != 0 {
			t.Fatalf("private key byte %d not wiped: 0x%02x", i, b)
		}
	}

	if err := WipeKeyPair(nil); err == nil {
		t.Error("WipeKeyPair(nil) did not fail")
	}
}
