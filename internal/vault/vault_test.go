package vault

import (
	"bytes"
	"crypto/x509"
	"strings"
	"testing"
)

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode(nil)
		if err != nil {
			t.Fatalf("GenerateCode failed: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("expected %d characters, got %q", CodeLength, code)
		}
		for _, c := range code {
			if !strings.ContainsRune(CodeAlphabet, c) {
				t.Fatalf("code %q contains %q outside the alphabet", code, c)
			}
		}
	}
}

func TestGenerateCodeDeterministic(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte{0, 0, 0, 0, 0}, "AAAAAAAA"},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0xff}, "99999999"},
		// 00001 00010 00011 00100 00101 00110 00111 01000
		{[]byte{0x08, 0x86, 0x42, 0x98, 0xe8}, "BCDEFGHJ"},
	}
	for _, c := range cases {
		got, err := GenerateCode(bytes.NewReader(c.in))
		if err != nil {
			t.Fatalf("GenerateCode(%x) failed: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("GenerateCode(%x) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestGenerateCodeShortRead(t *testing.T) {
	if _, err := GenerateCode(bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatal("expected an error when the source runs dry")
	}
}

func TestAlphabetHasNoAmbiguousCharacters(t *testing.T) {
	if len(CodeAlphabet) != 32 {
		t.Fatalf("alphabet must have 32 symbols, has %d", len(CodeAlphabet))
	}
	for _, c := range "01IO" {
		if strings.ContainsRune(CodeAlphabet, c) {
			t.Errorf("alphabet contains ambiguous %q", c)
		}
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("Failed to generate self-signed cert: %v", err)
	}

	if len(cert.Certificate) == 0 {
		t.Fatal("Generated certificate is empty")
	}

	if cert.PrivateKey == nil {
		t.Fatal("Generated private key is nil")
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("certificate does not parse: %v", err)
	}
	if parsed.Subject.Organization[0] != "Veridis Core" {
		t.Errorf("unexpected subject %v", parsed.Subject)
	}
}
