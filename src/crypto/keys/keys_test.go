package keys

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestDumpParseRoundTrip(t *testing.T) {
	_, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	dump := DumpPrivateKey(priv)

	parsed, err := ParsePrivateKey(dump)
	if err != nil {
		t.Fatalf("Error parsing key: %s", err)
	}

	if !bytes.Equal(priv, parsed) {
		t.Fatalf("Parsed key does not match original")
	}
}

func TestSignVerify(t *testing.T) {
	pub, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	data := []byte("the quick brown fox")

	sig := Sign(priv, data)

	if !Verify(pub, data, sig) {
		t.Fatalf("Verify returned false for a valid signature")
	}

	if Verify(pub, []byte("tampered"), sig) {
		t.Fatalf("Verify returned true for tampered data")
	}

	if Verify(pub, data, "not base64 !!!") {
		t.Fatalf("Verify returned true for a malformed signature")
	}
}

func TestKeyID(t *testing.T) {
	pub, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	id := KeyID(pub)
	if !strings.HasPrefix(id, "ed25519:") {
		t.Fatalf("KeyID missing algorithm prefix: %s", id)
	}

	alg, vers, err := ParseKeyID(id)
	if err != nil {
		t.Fatalf("Error parsing key id: %s", err)
	}
	if alg != Algorithm {
		t.Fatalf("Algorithm mismatch. Expected %s, got %s", Algorithm, alg)
	}
	if len(vers) == 0 {
		t.Fatalf("Empty key version")
	}
}

func TestSimpleKeyfile(t *testing.T) {
	keyfile := filepath.Join(t.TempDir(), "signing_key")

	_, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("Error generating key: %s", err)
	}

	skf := NewSimpleKeyfile(keyfile)

	if err := skf.WriteKey(priv); err != nil {
		t.Fatalf("Error writing key: %s", err)
	}

	read, err := skf.ReadKey()
	if err != nil {
		t.Fatalf("Error reading key: %s", err)
	}

	if !bytes.Equal(priv, read) {
		t.Fatalf("Read key does not match written key")
	}
}
