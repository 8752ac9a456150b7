package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blethermo/internal/device"
)

// FakeTransport is an in-memory device.Transport.
//
// Scan replays the configured advertisements, then keeps scanning until the
// context is done; Emit injects further advertisements into a running scan.
// Connect resolves addresses against peripherals configured with WithPeripheral.
//
//	tr := testutils.NewFakeTransport().
//	    WithAdvertisements(testutils.NewAdvertisementBuilder().WithName("DSD TECH").WithAddress("AA").Build())
//	tr.WithPeripheral("AA").
//	    WithService("ffe0").
//	    WithCharacteristic("ffe1")
type FakeTransport struct {
	mu           sync.Mutex
	adverts      []device.Advertisement
	advDelay     time.Duration
	scanErr      error
	handler      func(device.Advertisement)
	peripherals  map[string]*FakePeripheral
	connectErrs  map[string]error
	hangConnects map[string]bool
	connections  []*FakeConnection

	scanCalls    atomic.Int32
	connectCalls atomic.Int32
}

// NewFakeTransport creates an empty fake transport
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		peripherals:  make(map[string]*FakePeripheral),
		connectErrs:  make(map[string]error),
		hangConnects: make(map[string]bool),
	}
}

// WithAdvertisements queues advertisements replayed at the start of every scan
func (t *FakeTransport) WithAdvertisements(advs ...device.Advertisement) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adverts = append(t.adverts, advs...)
	return t
}

// WithAdvertisementDelay spaces replayed advertisements
func (t *FakeTransport) WithAdvertisementDelay(d time.Duration) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advDelay = d
	return t
}

// WithScanError makes Scan fail with err after replaying advertisements
func (t *FakeTransport) WithScanError(err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErr = err
	return t
}

// WithConnectError makes Connect to address fail with err
func (t *FakeTransport) WithConnectError(address string, err error) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErrs[address] = err
	return t
}

// WithHangingConnect makes Connect to address block until its context is done
func (t *FakeTransport) WithHangingConnect(address string) *FakeTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangConnects[address] = true
	return t
}

// WithPeripheral registers a connectable peripheral and returns it for configuration
func (t *FakeTransport) WithPeripheral(address string) *FakePeripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &FakePeripheral{address: address}
	t.peripherals[address] = p
	return p
}

// Peripheral returns a registered peripheral
func (t *FakeTransport) Peripheral(address string) *FakePeripheral {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peripherals[address]
}

// Scan implements device.ScanningDevice
func (t *FakeTransport) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	t.scanCalls.Add(1)

	t.mu.Lock()
	adverts := append([]device.Advertisement(nil), t.adverts...)
	delay := t.advDelay
	scanErr := t.scanErr
	t.handler = handler
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.handler = nil
		t.mu.Unlock()
	}()

	for _, adv := range adverts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if scanErr != nil {
		return scanErr
	}

	<-ctx.Done()
	return ctx.Err()
}

// Emit delivers adv to a running scan. Returns false when no scan is running.
func (t *FakeTransport) Emit(adv device.Advertisement) bool {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(adv)
	return true
}

// Scanning reports whether a scan is in progress
func (t *FakeTransport) Scanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler != nil
}

// Connect implements device.Transport
func (t *FakeTransport) Connect(ctx context.Context, address string, _ *device.ConnectOptions) (device.Connection, error) {
	t.connectCalls.Add(1)

	t.mu.Lock()
	p := t.peripherals[address]
	connectErr := t.connectErrs[address]
	hang := t.hangConnects[address]
	t.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if p == nil {
		return nil, fmt.Errorf("peripheral %s not found", address)
	}

	conn := &FakeConnection{
		address:      address,
		peripheral:   p,
		disconnected: make(chan struct{}),
	}
	p.attach(conn)

	t.mu.Lock()
	t.connections = append(t.connections, conn)
	t.mu.Unlock()

	return conn, nil
}

// Connections returns every connection opened so far
func (t *FakeTransport) Connections() []*FakeConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeConnection(nil), t.connections...)
}

// ScanCalls returns how many scans were started
func (t *FakeTransport) ScanCalls() int {
	return int(t.scanCalls.Load())
}

// ConnectCalls returns how many connections were attempted
func (t *FakeTransport) ConnectCalls() int {
	return int(t.connectCalls.Load())
}

// ----------------------------
// Peripheral
// ----------------------------

// FakePeripheral describes the GATT profile of a fake peripheral
type FakePeripheral struct {
	mu          sync.Mutex
	address     string
	services    []*fakeServiceDef
	servicesErr error
}

type fakeServiceDef struct {
	uuid  string
	chars []*FakeCharacteristic
}

// WithService adds a service to the profile
func (p *FakePeripheral) WithService(uuid string) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services = append(p.services, &fakeServiceDef{uuid: uuid})
	return p
}

// WithCharacteristic adds a characteristic to the last added service
func (p *FakePeripheral) WithCharacteristic(uuid string) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := p.services[len(p.services)-1]
	last.chars = append(last.chars, NewFakeCharacteristic(uuid))
	return p
}

// WithServicesError makes service discovery fail
func (p *FakePeripheral) WithServicesError(err error) *FakePeripheral {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servicesErr = err
	return p
}

// Characteristic finds a configured characteristic by UUID
func (p *FakePeripheral) Characteristic(uuid string) *FakeCharacteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, svc := range p.services {
		for _, c := range svc.chars {
			if c.uuid == uuid {
				return c
			}
		}
	}
	return nil
}

func (p *FakePeripheral) attach(conn *FakeConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, svc := range p.services {
		for _, c := range svc.chars {
			c.conn.Store(conn)
		}
	}
}

// ----------------------------
// Connection
// ----------------------------

// FakeConnection is a live link to a FakePeripheral
type FakeConnection struct {
	address         string
	peripheral      *FakePeripheral
	disconnected    chan struct{}
	once            sync.Once
	disconnectCalls atomic.Int32
}

func (c *FakeConnection) Address() string {
	return c.address
}

func (c *FakeConnection) Services(ctx context.Context) ([]device.Service, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("discover services: %w", device.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.peripheral.mu.Lock()
	defer c.peripheral.mu.Unlock()

	if c.peripheral.servicesErr != nil {
		return nil, c.peripheral.servicesErr
	}

	result := make([]device.Service, 0, len(c.peripheral.services))
	for _, def := range c.peripheral.services {
		result = append(result, &fakeService{def: def, conn: c})
	}
	return result, nil
}

func (c *FakeConnection) IsConnected() bool {
	select {
	case <-c.disconnected:
		return false
	default:
		return true
	}
}

func (c *FakeConnection) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *FakeConnection) Disconnect() error {
	c.disconnectCalls.Add(1)
	c.Drop()
	return nil
}

// Drop simulates the peripheral going away
func (c *FakeConnection) Drop() {
	c.once.Do(func() {
		close(c.disconnected)
	})
}

// DisconnectCalls returns how many times Disconnect was called
func (c *FakeConnection) DisconnectCalls() int {
	return int(c.disconnectCalls.Load())
}

type fakeService struct {
	def  *fakeServiceDef
	conn *FakeConnection
}

func (s *fakeService) UUID() string {
	return s.def.uuid
}

func (s *fakeService) Characteristics(ctx context.Context) ([]device.Characteristic, error) {
	if !s.conn.IsConnected() {
		return nil, fmt.Errorf("discover characteristics of %s: %w", s.def.uuid, device.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([]device.Characteristic, 0, len(s.def.chars))
	for _, c := range s.def.chars {
		result = append(result, c)
	}
	return result, nil
}

// ----------------------------
// Characteristic
// ----------------------------

type readResult struct {
	data []byte
	err  error
}

// FakeCharacteristic serves scripted reads and records writes.
// Read blocks until a value is pushed, the link drops, or the timeout expires.
type FakeCharacteristic struct {
	uuid      string
	reads     chan readResult
	conn      atomic.Pointer[FakeConnection]
	readCalls atomic.Int64

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

// NewFakeCharacteristic creates an unattached characteristic
func NewFakeCharacteristic(uuid string) *FakeCharacteristic {
	return &FakeCharacteristic{
		uuid:  uuid,
		reads: make(chan readResult, 1024),
	}
}

// Push queues text values for subsequent reads, one per read
func (c *FakeCharacteristic) Push(chunks ...string) {
	for _, chunk := range chunks {
		c.reads <- readResult{data: []byte(chunk)}
	}
}

// PushBytes queues a raw value
func (c *FakeCharacteristic) PushBytes(data []byte) {
	c.reads <- readResult{data: data}
}

// PushError queues a failed read
func (c *FakeCharacteristic) PushError(err error) {
	c.reads <- readResult{err: err}
}

// SetWriteError makes subsequent writes fail
func (c *FakeCharacteristic) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Writes returns all successfully written values
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// ReadCalls returns how many reads were issued
func (c *FakeCharacteristic) ReadCalls() int {
	return int(c.readCalls.Load())
}

func (c *FakeCharacteristic) UUID() string {
	return c.uuid
}

func (c *FakeCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	c.readCalls.Add(1)

	conn := c.conn.Load()
	if conn == nil || !conn.IsConnected() {
		return nil, fmt.Errorf("read %s: %w", c.uuid, device.ErrNotConnected)
	}

	select {
	case r := <-c.reads:
		return r.data, r.err
	case <-conn.Disconnected():
		return nil, fmt.Errorf("read %s: %w", c.uuid, device.ErrNotConnected)
	case <-time.After(timeout):
		return nil, fmt.Errorf("read %s after %v: %w", c.uuid, timeout, device.ErrTimeout)
	}
}

func (c *FakeCharacteristic) Write(data []byte, _ bool, _ time.Duration) error {
	conn := c.conn.Load()
	if conn == nil || !conn.IsConnected() {
		return fmt.Errorf("write %s: %w", c.uuid, device.ErrNotConnected)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

// Attach binds a standalone characteristic to conn, for tests that skip negotiation
func (c *FakeCharacteristic) Attach(conn *FakeConnection) {
	c.conn.Store(conn)
}

// NewFakeConnection creates a standalone live connection
func NewFakeConnection(address string) *FakeConnection {
	return &FakeConnection{
		address:      address,
		peripheral:   &FakePeripheral{address: address},
		disconnected: make(chan struct{}),
	}
}
