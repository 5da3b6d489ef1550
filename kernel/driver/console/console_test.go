package console

import "testing"

func TestWriteAccumulatesOutput(t *testing.T) {
	c := New()
	for _, chunk := range []string{"boot: ", "memory ok\n", "boot: init\n"} {
		n, err := c.WriteAt([]byte(chunk), 0)
		if err != nil {
			t.Fatalf("unexpected write error: %v", err)
		}
		if n != len(chunk) {
			t.Fatalf("expected a %d byte write; got %d", len(chunk), n)
		}
	}

	exp := "boot: memory ok\nboot: init\n"
	if got := string(c.Contents()); got != exp {
		t.Fatalf("expected output %q; got %q", exp, got)
	}
}

func TestOutputRingDropsOldest(t *testing.T) {
	c := New()
	payload := make([]byte, outBufSize)
	for i := range payload {
		payload[i] = 'a'
	}
	c.WriteAt(payload, 0)
	c.WriteAt([]byte("tail"), 0)

	got := c.Contents()
	if len(got) != outBufSize {
		t.Fatalf("expected the ring to hold %d bytes; got %d", outBufSize, len(got))
	}
	if string(got[outBufSize-4:]) != "tail" {
		t.Fatalf("expected the newest bytes kept; got %q", got[outBufSize-8:])
	}
	if got[0] != 'a' {
		t.Fatalf("expected the oldest surviving byte to be 'a'; got %q", got[0])
	}
}

func TestReadConsumesInputInOrder(t *testing.T) {
	c := New()

	buf := make([]byte, 4)
	if n, _ := c.ReadAt(buf, 0); n != 0 {
		t.Fatalf("expected an empty queue to read zero bytes; got %d", n)
	}

	c.Feed([]byte("abcdef"))

	if n, _ := c.ReadAt(buf, 0); n != 4 || string(buf) != "abcd" {
		t.Fatalf("expected to read %q; got %q (%d bytes)", "abcd", buf[:n], n)
	}
	if n, _ := c.ReadAt(buf, 0); n != 2 || string(buf[:n]) != "ef" {
		t.Fatalf("expected to read %q; got %q (%d bytes)", "ef", buf[:n], n)
	}
	if n, _ := c.ReadAt(buf, 0); n != 0 {
		t.Fatalf("expected the drained queue to read zero bytes; got %d", n)
	}
}

func TestFeedInvokesWakeCallback(t *testing.T) {
	c := New()

	wakes := 0
	c.SetWakeFn(func() { wakes++ })

	c.Feed([]byte("x"))
	c.Feed([]byte("y"))
	if wakes != 2 {
		t.Fatalf("expected one wakeup per feed; got %d", wakes)
	}
}

func TestFeedDropsBeyondCapacity(t *testing.T) {
	c := New()
	payload := make([]byte, inBufSize+10)
	for i := range payload {
		payload[i] = 'k'
	}
	c.Feed(payload)

	total := 0
	buf := make([]byte, 256)
	for {
		n, _ := c.ReadAt(buf, 0)
		if n == 0 {
			break
		}
		total += n
	}
	if total != inBufSize {
		t.Fatalf("expected the queue capped at %d bytes; got %d", inBufSize, total)
	}
}
