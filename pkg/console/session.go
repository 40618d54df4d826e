package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/logging"
	"github.com/appnet-org/sdnsim/pkg/sdn"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

// Commands understood at the main prompt.
const (
	CmdSend = "SEND"
	CmdRec  = "REC"
	CmdQuit = "QUIT"
)

// DefaultReceiveTimeout bounds how long REC waits for a message.
const DefaultReceiveTimeout = 30 * time.Second

// EndUser is the part of an sdn.EndUser a session drives.
type EndUser interface {
	ID() topology.NodeID
	Send(dst topology.NodeID, content string) error
	Deliveries() <-chan sdn.Delivery
}

// Session is one interactive conversation between a terminal and an end user. Received
// messages reach the session only through the end user's delivery channel, which REC
// consumes one message at a time.
type Session struct {
	dev            Device
	user           EndUser
	topo           topology.Topology
	ReceiveTimeout time.Duration
	log            *zap.Logger
}

// NewSession binds dev to user.
func NewSession(dev Device, user EndUser, topo topology.Topology) *Session {
	return &Session{
		dev:            dev,
		user:           user,
		topo:           topo,
		ReceiveTimeout: DefaultReceiveTimeout,
		log:            logging.Named("console").With(zap.Stringer("endUser", user.ID())),
	}
}

// Run reads commands until QUIT, end of input or ctx ends. Reaching the end of input is
// not an error.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := s.dev.ReadLine("Enter SEND to send a message, REC to receive a message or QUIT: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.ToUpper(strings.TrimSpace(line)) {
		case CmdSend:
			if err := s.send(); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		case CmdRec:
			if err := s.receive(ctx); err != nil {
				return err
			}
		case CmdQuit:
			return nil
		case "":
		default:
			s.dev.Println("Invalid input.")
		}
	}
}

// send asks for content and a destination, re-prompting until the destination is valid.
func (s *Session) send() error {
	content, err := s.dev.ReadLine("Please enter a message to send: ")
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Send this message to end user (1-%d)? ", s.topo.EndUsers)
	var dst topology.NodeID
	for {
		answer, err := s.dev.ReadLine(prompt)
		if err != nil {
			return err
		}
		dst, err = s.parseEndUser(answer)
		if err == nil {
			break
		}
		s.dev.Println("Invalid input.")
	}

	if err := s.user.Send(dst, content); err != nil {
		s.log.Warn("Send failed", zap.Stringer("dst", dst), zap.Error(err))
		s.dev.Println("Message not sent: " + err.Error())
		return nil
	}
	s.dev.Println("Message sent.")
	return nil
}

func (s *Session) parseEndUser(answer string) (topology.NodeID, error) {
	i, err := strconv.ParseUint(strings.TrimSpace(answer), 10, 8)
	if err != nil {
		return topology.NodeID{}, err
	}
	return s.topo.EndUser(uint8(i))
}

// receive waits for exactly one delivery.
func (s *Session) receive(ctx context.Context) error {
	s.dev.Println("Waiting for messages.")

	var timeout <-chan time.Time
	if s.ReceiveTimeout > 0 {
		timer := time.NewTimer(s.ReceiveTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-s.user.Deliveries():
		s.dev.Println(fmt.Sprintf("New message from end user %d: %s", d.From.Index, d.Content))
		return nil
	case <-timeout:
		s.dev.Println("No message received.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
