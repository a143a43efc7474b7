package forwarder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sdabf "github.com/MWATelescope/sda-bf"
)

func TestUDPForwarder(t *testing.T) {
	pc, err := net.ListenPacket("udp", "localhost:0")
	assert.NoError(t, err)
	defer pc.Close()
	udpAddr := pc.LocalAddr().(*net.UDPAddr)
	config := fmt.Sprintf(`
Server = "127.0.0.1"
Port = %d
`, udpAddr.Port)

	recvData := struct {
		data []byte
		len  int
	}{}

	dataChan := make(chan struct{}, 1)
	go func() {
		buffer := make([]byte, 2048)
		assert.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second*3)))
		n, _, err := pc.ReadFrom(buffer)
		assert.NoError(t, err)
		recvData.data = buffer
		recvData.len = n
		dataChan <- struct{}{}
	}()

	udp, err := NewUDPForwarderFromReader(bytes.NewBufferString(config))
	assert.NoError(t, err)
	defer udp.Close()

	status := &sdabf.FleetStatus{
		UpdatedAt: time.Now(),
		Units: []sdabf.UnitStatus{
			{
				ID:          1,
				State:       sdabf.Ready,
				CommOK:      true,
				Flags:       0x80,
				TempRaw:     0x0190,
				Temperature: 25.0,
				Pointed:     true,
				PowerOK:     true,
				Voltage:     48.1,
				Current:     0.42,
			},
			{
				ID:    2,
				State: sdabf.Faulted,
			},
		},
	}
	assert.NoError(t, udp.Forward(status))

	<-dataChan
	assert.NotZero(t, recvData.len)

	var pkt statusPacket
	assert.NoError(t, binary.Read(bytes.NewReader(recvData.data[:recvData.len]), binary.LittleEndian, &pkt))
	assert.Equal(t, uint8(TypeStatus), pkt.Type)
	assert.Equal(t, uint8(2), pkt.Count)

	assert.Equal(t, uint8(1), pkt.Units[0].ID)
	assert.Equal(t, uint8(sdabf.Ready), pkt.Units[0].State)
	assert.Equal(t, uint8(0x80), pkt.Units[0].Flags)
	assert.Equal(t, uint8(1), pkt.Units[0].CommOK)
	assert.Equal(t, uint16(0x0190), pkt.Units[0].TempRaw)
	assert.InDelta(t, 48.1, float64(pkt.Units[0].Voltage), 1e-3)
	assert.InDelta(t, 0.42, float64(pkt.Units[0].Current), 1e-3)

	assert.Equal(t, uint8(2), pkt.Units[1].ID)
	assert.Equal(t, uint8(sdabf.Faulted), pkt.Units[1].State)
	assert.Equal(t, uint8(0), pkt.Units[1].CommOK)
}
