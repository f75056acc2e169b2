// Package bridge connects to a remote serial-port bridge server over
// websocket, for bench setups where the motor controller hangs off another
// host. Register frames travel hex-encoded in JSON data frames; status bytes
// come back the same way.
package bridge

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Bus is a motor bus tunneled through a bridge server. Writes queue until
// the connection is up; the connection retries forever.
type Bus struct {
	url  string
	port string

	outgoing   chan message
	interrupts chan byte
}

type message struct {
	done    chan struct{}
	payload []byte
}

// dataFrame is the bridge wire format.
type dataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

// New starts a Bus against the bridge at url, addressing the named remote
// port.
func New(url, port string) *Bus {
	b := &Bus{
		url:        url,
		port:       port,
		outgoing:   make(chan message, 64),
		interrupts: make(chan byte),
	}
	go b.loop()
	return b
}

// Interrupts yields controller status bytes relayed by the bridge.
func (b *Bus) Interrupts() <-chan byte {
	return b.interrupts
}

// WriteRegister sends one framed register transaction through the bridge,
// blocking until it has been handed to the server.
func (b *Bus) WriteRegister(reg byte, data []byte) error {
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, reg, byte(len(data)))
	frame = append(frame, data...)
	return b.send(frame)
}

// WriteByte sends a single realtime byte.
func (b *Bus) WriteByte(p byte) error {
	return b.send([]byte{p})
}

func (b *Bus) send(frame []byte) error {
	data, err := json.Marshal(dataFrame{Port: b.port, Data: hex.EncodeToString(frame)})
	if err != nil {
		// shouldn't happen since we control everything that's sent out
		return err
	}
	ch := make(chan struct{})
	b.outgoing <- message{done: ch, payload: data}
	<-ch
	return nil
}

func (b *Bus) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logrus.Errorln("bridge: read:", err)
			return
		}
		var frame dataFrame
		if err = json.Unmarshal(data, &frame); err != nil {
			logrus.Errorln("bridge: parse:", err)
			continue
		}
		if frame.Port != b.port {
			continue
		}
		raw, err := hex.DecodeString(frame.Data)
		if err != nil {
			logrus.Errorln("bridge: decode:", err)
			continue
		}
		for _, status := range raw {
			b.interrupts <- status
		}
	}
}

func (b *Bus) loop() {
	var nextUp message

reconnect:
	for {
		logrus.Infoln("bridge: connecting to", b.url)
		ws, _, err := websocket.DefaultDialer.Dial(b.url, nil)
		if err != nil {
			logrus.Errorln("bridge: connect:", err)
			time.Sleep(3 * time.Second)
			continue
		}
		logrus.Infoln("bridge: connected")
		ch := make(chan struct{})
		go b.readLoop(ws, ch)

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					logrus.Errorln("bridge: send:", err)
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-ch:
				continue reconnect
			case nextUp = <-b.outgoing:
			}
		}
	}
}
