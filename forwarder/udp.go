// Package forwarder pushes fleet status snapshots to remote consumers.
package forwarder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	sdabf "github.com/MWATelescope/sda-bf"
)

type Header struct {
	Type uint8
}

const (
	TypeStatus = 1
)

// unitRecord is the fixed-size wire form of one unit's status.
type unitRecord struct {
	ID      uint8
	State   uint8
	Flags   uint8
	CommOK  uint8
	PowerOK uint8
	Pointed uint8
	TempRaw uint16
	Voltage float32
	Current float32
}

// statusPacket is the wire form of a fleet snapshot.
type statusPacket struct {
	Header
	Count uint8
	Units [sdabf.MaxUnits]unitRecord
}

var maxPacketSize = int(unsafe.Sizeof(statusPacket{}))

type UDPConfig struct {
	Server string
	Port   int
}

// UDPForwarder sends binary-packed fleet snapshots over UDP.
type UDPForwarder struct {
	Config *UDPConfig

	mu   sync.Mutex
	conn net.Conn
}

// NewUDPForwarder loads the TOML config file from the binary's directory
// and connects.
func NewUDPForwarder(fileName string) (*UDPForwarder, error) {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return nil, errors.Wrap(err, "unable to determine binary location")
	}
	file, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	defer file.Close()
	return NewUDPForwarderFromReader(file)
}

func NewUDPForwarderFromReader(configReader io.Reader) (*UDPForwarder, error) {
	configData, err := io.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config reader")
	}
	config := UDPConfig{}
	if _, err := toml.Decode(string(configData), &config); err != nil {
		return nil, errors.Wrap(err, "unable to load udp forwarder configuration")
	}
	udp := &UDPForwarder{
		Config: &config,
	}
	if err = udp.connect(); err != nil {
		return nil, err
	}
	return udp, nil
}

// Forward packs the snapshot and sends it as one datagram.
func (udp *UDPForwarder) Forward(status *sdabf.FleetStatus) error {
	pkt := statusPacket{
		Header: Header{Type: TypeStatus},
		Count:  uint8(len(status.Units)),
	}
	for i, u := range status.Units {
		if i >= sdabf.MaxUnits {
			break
		}
		pkt.Units[i] = unitRecord{
			ID:      uint8(u.ID),
			State:   uint8(u.State),
			Flags:   u.Flags,
			CommOK:  boolByte(u.CommOK),
			PowerOK: boolByte(u.PowerOK),
			Pointed: boolByte(u.Pointed),
			TempRaw: u.TempRaw,
			Voltage: float32(u.Voltage),
			Current: float32(u.Current),
		}
	}

	buf := bytes.NewBuffer([]byte{})
	if err := binary.Write(buf, binary.LittleEndian, &pkt); err != nil {
		return errors.Wrap(err, "unable to pack status packet")
	}

	udp.mu.Lock()
	defer udp.mu.Unlock()
	if _, err := udp.conn.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "unable to send status packet")
	}
	return nil
}

func (udp *UDPForwarder) connect() error {
	writeBufSize := maxPacketSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d",
		udp.Config.Server,
		udp.Config.Port))
	if err != nil {
		return err
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	udp.conn = conn
	return nil
}

// Close shuts the socket down.
func (udp *UDPForwarder) Close() error {
	udp.mu.Lock()
	defer udp.mu.Unlock()
	if udp.conn == nil {
		return nil
	}
	return udp.conn.Close()
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
