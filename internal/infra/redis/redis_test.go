package redis

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)

	client, err := NewClient("redis://" + server.Addr())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()
}

func TestNewClientInvalidURL(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("not-a-redis-url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
