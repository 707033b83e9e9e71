package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/scanmodel"
)

func TestCreatePublisherDuplicate(t *testing.T) {
	q := New(events.New(nil), "q1", 4, OverflowBlock)
	if _, err := q.CreatePublisher("p1"); err != nil {
		t.Fatalf("first CreatePublisher: %v", err)
	}
	if _, err := q.CreatePublisher("p1"); err == nil {
		t.Fatal("expected DuplicateProducerError on second CreatePublisher")
	}
}

func TestCreateConsumerDuplicate(t *testing.T) {
	q := New(events.New(nil), "q1", 4, OverflowBlock)
	if _, err := q.CreateConsumer("c1"); err != nil {
		t.Fatalf("first CreateConsumer: %v", err)
	}
	if _, err := q.CreateConsumer("c1"); err == nil {
		t.Fatal("expected DuplicateConsumerError on second CreateConsumer")
	}
}

func TestPerConsumerFIFOIsolation(t *testing.T) {
	q := New(events.New(nil), "q1", 16, OverflowBlock)
	pub, _ := q.CreatePublisher("p1")
	c1, _ := q.CreateConsumer("c1")
	c2, _ := q.CreateConsumer("c2")

	for i := 0; i < 5; i++ {
		if err := pub.Publish(NewScanCompleted("scan", scanmodel.ScanStats{}, "")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	// c1 reads all 5 without c2 reading any — independence of cursors.
	for i := 0; i < 5; i++ {
		if _, ok := c1.Next(); !ok {
			t.Fatalf("c1.Next() at %d: expected message", i)
		}
	}
	if _, ok := c1.Next(); ok {
		t.Fatal("c1 should be caught up")
	}

	for i := 0; i < 5; i++ {
		if _, ok := c2.Next(); !ok {
			t.Fatalf("c2.Next() at %d: expected message", i)
		}
	}
}

func TestOverflowFailBackpressure(t *testing.T) {
	q := New(events.New(nil), "q1", 2, OverflowFail)
	pub, _ := q.CreatePublisher("p1")
	// No consumer registered, so nothing is ever evicted.
	if err := pub.Publish(NewScanCompleted("s1", scanmodel.ScanStats{}, "")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := pub.Publish(NewScanCompleted("s2", scanmodel.ScanStats{}, "")); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	err := pub.Publish(NewScanCompleted("s3", scanmodel.ScanStats{}, ""))
	if err == nil {
		t.Fatal("expected BackpressureError at capacity under OverflowFail")
	}
	if _, ok := err.(*BackpressureError); !ok {
		t.Fatalf("got error %T, want *BackpressureError", err)
	}
}

func TestOverflowBlockUnblocksOnConsume(t *testing.T) {
	q := New(events.New(nil), "q1", 1, OverflowBlock)
	pub, _ := q.CreatePublisher("p1")
	cons, _ := q.CreateConsumer("c1")

	if err := pub.Publish(NewScanCompleted("s1", scanmodel.ScanStats{}, "")); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- pub.Publish(NewScanCompleted("s2", scanmodel.ScanStats{}, ""))
	}()

	select {
	case <-done:
		t.Fatal("second publish should block while ring is full and unconsumed")
	case <-time.After(50 * time.Millisecond):
		// Expected: still blocked.
	}

	if _, ok := cons.Next(); !ok {
		t.Fatal("expected first message")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unblocked publish returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish never unblocked after consumer freed capacity")
	}
}

func TestLagStatistics(t *testing.T) {
	q := New(events.New(nil), "q1", 8, OverflowBlock)
	pub, _ := q.CreatePublisher("p1")
	cons, _ := q.CreateConsumer("c1")

	for i := 0; i < 3; i++ {
		pub.Publish(NewScanCompleted("s", scanmodel.ScanStats{}, ""))
	}
	cons.Next()

	stats := q.LagStatistics()
	if len(stats) != 1 {
		t.Fatalf("got %d lag entries, want 1", len(stats))
	}
	if stats[0].Lag != 2 {
		t.Errorf("Lag = %d, want 2", stats[0].Lag)
	}
}

func TestShutdownUnblocksPublisher(t *testing.T) {
	q := New(events.New(nil), "q1", 1, OverflowBlock)
	pub, _ := q.CreatePublisher("p1")
	pub.Publish(NewScanCompleted("s1", scanmodel.ScanStats{}, ""))

	done := make(chan error, 1)
	go func() {
		done <- pub.Publish(NewScanCompleted("s2", scanmodel.ScanStats{}, ""))
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	select {
	case err := <-done:
		if _, ok := err.(*ClosedError); !ok {
			t.Fatalf("got error %T, want *ClosedError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not unblock the waiting publisher")
	}
}

func TestConcurrentConsumersIndependentProgress(t *testing.T) {
	q := New(events.New(nil), "q1", 64, OverflowBlock)
	pub, _ := q.CreatePublisher("p1")
	const n = 50

	// Consumers start at the current head, so they are registered before
	// the messages they are expected to read are published.
	consumers := make([]*Consumer, 3)
	for i := range consumers {
		cons, err := q.CreateConsumer(NewConsumerID())
		if err != nil {
			t.Fatal(err)
		}
		consumers[i] = cons
	}
	for i := 0; i < n; i++ {
		pub.Publish(NewScanCompleted("s", scanmodel.ScanStats{}, ""))
	}

	var wg sync.WaitGroup
	counts := make([]int, len(consumers))
	for i, cons := range consumers {
		wg.Add(1)
		go func(i int, c *Consumer) {
			defer wg.Done()
			for {
				if _, ok := c.Next(); !ok {
					return
				}
				counts[i]++
			}
		}(i, cons)
	}
	wg.Wait()

	for i, c := range counts {
		if c != n {
			t.Errorf("consumer %d read %d messages, want %d", i, c, n)
		}
	}
}

func TestConformanceHelperAgainstQueueStream(t *testing.T) {
	msgs := []ScanMessage{
		NewScanStarted("s1", scanmodel.RepositoryDescriptor{}),
		NewCommitData("s1", scanmodel.CommitData{SHA: "a"}),
		NewCommitData("s1", scanmodel.CommitData{SHA: "b"}),
		NewScanCompleted("s1", scanmodel.ScanStats{CommitsScanned: 2}, ""),
	}
	kinds := make([]scanmodel.MessageKind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.ConformanceKind()
	}
	if err := scanmodel.Conformance(kinds); err != nil {
		t.Errorf("Conformance() = %v, want nil", err)
	}
}
