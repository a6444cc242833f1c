package wire

import (
	"bytes"
	"net"
	"testing"
)

func TestPacketRoundtrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cw := NewConn(client)
	sr := NewConn(server)

	want := []byte("select 1")
	done := make(chan error, 1)
	go func() { done <- cw.WritePacket(want) }()

	got, err := sr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPacketSequenceAdvances(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cw := NewConn(client)
	sr := NewConn(server)

	for i := 0; i < 3; i++ {
		// Wait for each write to finish before the next one starts: Conn is
		// not safe for concurrent use.
		done := make(chan error, 1)
		go func(b byte) { done <- cw.WritePacket([]byte{b}) }(byte(i))
		if _, err := sr.ReadPacket(); err != nil {
			t.Fatal(err)
		}
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
	if sr.Sequence() != 3 {
		t.Fatalf("sequence = %d, want 3", sr.Sequence())
	}

	sr.ResetSequence()
	cw.ResetSequence()
	if sr.Sequence() != 0 {
		t.Fatalf("sequence after reset = %d", sr.Sequence())
	}
}

func TestPacketSplitOversizedPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cw := NewConn(client)
	sr := NewConn(server)

	want := bytes.Repeat([]byte{0xAB}, MaxPayload+10)
	go cw.WritePacket(want)

	got, err := sr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	// Two fragments: one of MaxPayload, one of 10 bytes, so sequence
	// advances by 2.
	if sr.Sequence() != 2 {
		t.Fatalf("sequence = %d, want 2", sr.Sequence())
	}
}

func TestPacketOutOfSequence(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cw := NewConn(client)
	sr := NewConn(server)

	// Force the writer's sequence counter ahead so its next packet's
	// header doesn't match what the reader expects.
	cw.seq = 5

	go cw.WritePacket([]byte("x"))
	_, err := sr.ReadPacket()
	var seqErr *SequenceError
	if err == nil {
		t.Fatal("expected a sequence error")
	}
	if se, ok := err.(*SequenceError); ok {
		seqErr = se
	} else {
		t.Fatalf("expected *SequenceError, got %T", err)
	}
	if seqErr.Want != 0 || seqErr.Got != 5 {
		t.Fatalf("unexpected mismatch: %+v", seqErr)
	}
}
