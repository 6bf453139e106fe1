package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "postgres://qpf:hunter2@db:5432/qpf"

func TestSecretString_NeverLeaks(t *testing.T) {
	s := SecretString(testSecret)

	for _, format := range []string{"%s", "%v", "%+v"} {
		out := fmt.Sprintf(format, s)
		if strings.Contains(out, testSecret) {
			t.Errorf("fmt %s leaked the raw secret: %s", format, out)
		}
	}

	data, err := json.Marshal(struct {
		DSN SecretString `json:"dsn"`
	}{DSN: s})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if string(data) != `{"dsn":"***REDACTED***"}` {
		t.Errorf("json = %s", data)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want raw value", s.Unmask())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for a non-empty secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for an empty secret")
	}
}
