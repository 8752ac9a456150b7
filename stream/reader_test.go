package stream_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/internal/testutils"
	"github.com/srg/blethermo/internal/testutils/mocks"
	"github.com/srg/blethermo/stream"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type chunkCollector struct {
	mu     sync.Mutex
	chunks []string
}

func (c *chunkCollector) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, s)
}

func (c *chunkCollector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.chunks...)
}

func (c *chunkCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

type ReaderTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	conn   *testutils.FakeConnection
	char   *testutils.FakeCharacteristic
}

func (s *ReaderTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.conn = testutils.NewFakeConnection("AA:BB:CC:DD:EE:FF")
	s.char = testutils.NewFakeCharacteristic("ffe1")
	s.char.Attach(s.conn)
}

func (s *ReaderTestSuite) options() *stream.Options {
	opts := stream.DefaultOptions()
	opts.ReadTimeout = 50 * time.Millisecond
	opts.ErrorBackoff = time.Millisecond
	return opts
}

func (s *ReaderTestSuite) TestDeliversChunksInOrder() {
	// GOAL: Verify pulled values are decoded and delivered sequentially
	//
	// TEST SCENARIO: push three chunks → start reader → all three delivered in order

	s.char.Push("T:23.", "50H:55", ".10|")

	r := stream.New(s.options(), s.helper.Logger)
	var got chunkCollector
	s.Require().True(r.Start(context.Background(), s.char, got.add), "first Start MUST start a loop")
	defer r.Stop()

	s.Require().True(s.helper.Eventually(func() bool { return got.count() == 3 }, time.Second), "all chunks MUST be delivered")
	s.Equal([]string{"T:23.", "50H:55", ".10|"}, got.all())
	s.True(r.IsReading())
}

func (s *ReaderTestSuite) TestStartIsIdempotent() {
	r := stream.New(s.options(), s.helper.Logger)
	var got chunkCollector

	s.True(r.Start(context.Background(), s.char, got.add))
	s.False(r.Start(context.Background(), s.char, got.add), "second Start while reading MUST be a no-op")

	r.Stop()
	s.Require().True(s.helper.Eventually(func() bool { return !r.IsReading() }, time.Second))

	s.True(r.Start(context.Background(), s.char, got.add), "Start after exit MUST start a new loop")
	r.Stop()
}

func (s *ReaderTestSuite) TestStopIsSafeAnytime() {
	// GOAL: Verify Stop never blocks or panics regardless of reader state
	//
	// TEST SCENARIO: Stop before Start, twice while running, and after exit

	r := stream.New(s.options(), s.helper.Logger)
	r.Stop()
	r.Stop()

	select {
	case <-r.Done():
	default:
		s.Fail("Done MUST be closed before the first Start")
	}

	var exits atomic.Int32
	opts := s.options()
	opts.OnExit = func(err error) {
		exits.Add(1)
		s.NoError(err, "exit after Stop MUST report no error")
	}
	r = stream.New(opts, s.helper.Logger)
	r.Start(context.Background(), s.char, func(string) {})
	r.Stop()
	r.Stop()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		s.Fail("loop MUST exit after Stop")
	}
	r.Stop()

	s.Equal(int32(1), exits.Load(), "OnExit MUST fire exactly once")
	s.False(r.IsReading())
}

func (s *ReaderTestSuite) TestNoDeliveryAfterStop() {
	// GOAL: Verify no onChunk call starts after Stop returns
	//
	// TEST SCENARIO: stream chunks continuously → Stop → count frozen → push more → count unchanged

	r := stream.New(s.options(), s.helper.Logger)
	var delivered atomic.Int64
	var afterStop atomic.Bool
	var violations atomic.Int64

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		for i := 0; i < 200; i++ {
			s.char.Push("x")
			time.Sleep(100 * time.Microsecond)
		}
	}()

	r.Start(context.Background(), s.char, func(string) {
		if afterStop.Load() {
			violations.Add(1)
		}
		delivered.Add(1)
	})

	s.Require().True(s.helper.Eventually(func() bool { return delivered.Load() > 5 }, time.Second))
	r.Stop()
	afterStop.Store(true)

	<-feedDone
	<-r.Done()
	s.Zero(violations.Load(), "onChunk MUST NOT be invoked after Stop returns")
}

func (s *ReaderTestSuite) TestStopFromInsideConsumer() {
	r := stream.New(s.options(), s.helper.Logger)
	s.char.Push("a", "b", "c")

	var got chunkCollector
	r.Start(context.Background(), s.char, func(text string) {
		got.add(text)
		r.Stop()
	})

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		s.Fail("Stop from the consumer MUST NOT deadlock")
	}
	s.Equal([]string{"a"}, got.all(), "no chunk MUST follow a Stop issued by the consumer")
}

func (s *ReaderTestSuite) TestReadFailuresDoNotStopLoop() {
	// GOAL: Verify single failed pulls are reported and the loop continues
	//
	// TEST SCENARIO: error, timeout, then data → two ReadErrors reported → data still delivered

	var errs []*stream.ReadError
	var errMu sync.Mutex
	opts := s.options()
	opts.OnError = func(e *stream.ReadError) {
		errMu.Lock()
		defer errMu.Unlock()
		errs = append(errs, e)
	}

	boom := errors.New("gatt error 0x0e")
	s.char.PushError(boom)

	r := stream.New(opts, s.helper.Logger)
	var got chunkCollector
	r.Start(context.Background(), s.char, got.add)
	defer r.Stop()

	// Let at least one read time out before data arrives.
	s.Require().True(s.helper.Eventually(func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		return len(errs) >= 2
	}, 2*time.Second))
	s.char.Push("ok")

	s.Require().True(s.helper.Eventually(func() bool { return got.count() == 1 }, time.Second), "loop MUST survive failed pulls")

	errMu.Lock()
	defer errMu.Unlock()
	s.ErrorIs(errs[0], boom)
	s.Equal(uint64(1), errs[0].Attempt)
	s.ErrorIs(errs[1], device.ErrTimeout, "timeouts MUST be reported as read errors")
	s.True(r.IsReading())
	s.GreaterOrEqual(r.Stats().Failures, uint64(2))
}

func (s *ReaderTestSuite) TestDisconnectEndsLoop() {
	// GOAL: Verify an unrecoverable transport error exits the loop and resets state
	//
	// TEST SCENARIO: connection drops → loop exits → OnExit gets ErrNotConnected → IsReading false

	exitErr := make(chan error, 1)
	opts := s.options()
	opts.OnExit = func(err error) { exitErr <- err }

	r := stream.New(opts, s.helper.Logger)
	r.Start(context.Background(), s.char, func(string) {})
	s.conn.Drop()

	select {
	case err := <-exitErr:
		s.ErrorIs(err, device.ErrNotConnected)
	case <-time.After(time.Second):
		s.Fail("loop MUST exit on disconnect")
	}
	s.False(r.IsReading(), "reading MUST reset after the loop exits")
}

func (s *ReaderTestSuite) TestParentCancelEndsLoop() {
	exitErr := make(chan error, 1)
	opts := s.options()
	opts.OnExit = func(err error) { exitErr <- err }

	ctx, cancel := context.WithCancel(context.Background())
	r := stream.New(opts, s.helper.Logger)
	r.Start(ctx, s.char, func(string) {})
	cancel()

	select {
	case err := <-exitErr:
		s.ErrorIs(err, context.Canceled, "parent cancellation MUST be reported")
	case <-time.After(time.Second):
		s.Fail("loop MUST exit on parent cancellation")
	}
}

func (s *ReaderTestSuite) TestConsumerPanicEndsLoop() {
	exitErr := make(chan error, 1)
	opts := s.options()
	opts.OnExit = func(err error) { exitErr <- err }

	s.char.Push("boom")
	r := stream.New(opts, s.helper.Logger)
	r.Start(context.Background(), s.char, func(string) { panic("consumer failed") })

	select {
	case err := <-exitErr:
		s.ErrorIs(err, stream.ErrPanic)
	case <-time.After(time.Second):
		s.Fail("loop MUST exit on panic")
	}
	s.False(r.IsReading())
}

func (s *ReaderTestSuite) TestSplitMultibyteRune() {
	// GOAL: Verify a UTF-8 sequence split across pulls is reassembled
	//
	// TEST SCENARIO: "25°C" split inside the degree sign → delivered text concatenates to "25°C"

	deg := []byte("25°C")
	s.char.PushBytes(deg[:3])
	s.char.PushBytes(deg[3:])

	r := stream.New(s.options(), s.helper.Logger)
	var got chunkCollector
	r.Start(context.Background(), s.char, got.add)
	defer r.Stop()

	s.Require().True(s.helper.Eventually(func() bool { return got.count() == 2 }, time.Second))
	s.Equal([]string{"25", "°C"}, got.all())
}

func (s *ReaderTestSuite) TestUsesConfiguredTimeout() {
	m := &mocks.MockCharacteristic{}
	m.On("UUID").Return("ffe1")
	m.On("Read", 42*time.Millisecond).Return([]byte("T:1H:2|"), nil)

	opts := s.options()
	opts.ReadTimeout = 42 * time.Millisecond
	r := stream.New(opts, s.helper.Logger)

	var got chunkCollector
	r.Start(context.Background(), m, got.add)
	s.Require().True(s.helper.Eventually(func() bool { return got.count() > 0 }, time.Second))
	r.Stop()
	<-r.Done()

	m.AssertCalled(s.T(), "Read", 42*time.Millisecond)
	m.AssertNotCalled(s.T(), "Write", mock.Anything, mock.Anything, mock.Anything)
}

func TestReaderTestSuite(t *testing.T) {
	suite.Run(t, new(ReaderTestSuite))
}
