package password

import (
	"errors"
	"strings"
	"testing"
)

func secureParams() Argon2Params {
	return Argon2Params{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func fastParams() Argon2Params {
	return Argon2Params{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(secureParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	hasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestShortPasswordsAreHashed(t *testing.T) {
	hasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	if _, err := hasher.Hash("pw"); err != nil {
		t.Fatalf("expected short password to hash: %v", err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2(old) error: %v", err)
	}

	hash, err := oldHasher.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	newHasher, err := NewArgon2(secureParams())
	if err != nil {
		t.Fatalf("NewArgon2(new) error: %v", err)
	}

	needsUpgrade, err := newHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !needsUpgrade {
		t.Fatal("expected NeedsUpgrade to return true for weaker hash parameters")
	}

	same, err := oldHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if same {
		t.Fatal("expected NeedsUpgrade to return false for current parameters")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Verify("password", "not-a-phc-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	hasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify("version-test", wrongVersion); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestHashEmptyPassword(t *testing.T) {
	hasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestNewArgon2RejectsWeakParams(t *testing.T) {
	p := fastParams()
	p.Memory = 1024
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	p = fastParams()
	p.SaltLength = 8
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestVerifyRejectsNonCanonicalHashes(t *testing.T) {
	hasher, err := NewArgon2(fastParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	hash, err := hasher.Hash("canonical")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	costs := strings.Split(hash, "$")[3]

	cases := map[string]string{
		"reordered costs":  strings.Replace(hash, costs, "t=1,m=8192,p=1", 1),
		"trailing cost":    strings.Replace(hash, costs, costs+",x=1", 1),
		"leading zero":     strings.Replace(hash, "m=", "m=0", 1),
		"memory too low":   strings.Replace(hash, costs, "m=1024,t=1,p=1", 1),
		"parallelism wide": strings.Replace(hash, costs, "m=8192,t=1,p=300", 1),
		"missing key":      hash[:strings.LastIndex(hash, "$")],
		"argon2i":          strings.Replace(hash, "$argon2id$", "$argon2i$", 1),
		"bad salt":         strings.Replace(hash, strings.Split(hash, "$")[4], "!!", 1),
	}
	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := hasher.Verify("canonical", encoded); !errors.Is(err, ErrInvalidHash) {
				t.Fatalf("expected ErrInvalidHash, got %v", err)
			}
		})
	}

	ok, err := hasher.Verify("canonical", hash)
	if err != nil || !ok {
		t.Fatalf("canonical hash should verify, ok=%v err=%v", ok, err)
	}
}
