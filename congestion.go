package wdctcp

import (
	"context"

	"github.com/sagernet/quic-go"
	"github.com/sagernet/quic-go/congestion"
	"github.com/sagernet/sing-wdctcp/congestion_wdctcp"
	"github.com/sagernet/sing-wdctcp/weight"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
)

type Options struct {
	Config   congestion_wdctcp.Config
	Provider weight.Provider
	Logger   logger.ContextLogger
	// ECN reports whether the connection's path carries ECN marks.
	ECN bool
}

func Names() []string {
	return []string{congestion_wdctcp.NameWeighted, congestion_wdctcp.NameReno}
}

// NewCongestionControl creates the sender of the named algorithm for the
// connection local <-> remote.
func NewCongestionControl(name string, initialPacketSize congestion.ByteCount, local M.Socksaddr, remote M.Socksaddr, options Options) (*congestion_wdctcp.WeightedSender, error) {
	senderOptions := congestion_wdctcp.SenderOptions{
		Options: congestion_wdctcp.Options{
			Config:   options.Config,
			Provider: options.Provider,
			Logger:   options.Logger,
		},
		InitialMaxDatagramSize: initialPacketSize,
		LocalAddr:              local,
		RemoteAddr:             remote,
	}
	switch name {
	case congestion_wdctcp.NameWeighted:
		senderOptions.ECN = options.ECN
	case congestion_wdctcp.NameReno:
		senderOptions.Provider = nil
	default:
		return nil, E.New("unknown congestion control algorithm: ", name)
	}
	return congestion_wdctcp.NewWeightedSender(senderOptions)
}

// SetCongestion installs the named algorithm on connection. The weight
// record is released when the connection is closed.
func SetCongestion(ctx context.Context, connection *quic.Conn, name string, options Options) error {
	if options.Logger == nil {
		options.Logger = logger.NOP()
	}
	sender, err := NewCongestionControl(
		name,
		congestion.ByteCount(connection.Config().InitialPacketSize),
		M.SocksaddrFromNet(connection.LocalAddr()),
		M.SocksaddrFromNet(connection.RemoteAddr()),
		options,
	)
	if err != nil {
		return err
	}
	connection.SetCongestionControl(sender)
	options.Logger.DebugContext(ctx, "congestion control ", sender.Name(), " installed for ", connection.RemoteAddr())
	if name == congestion_wdctcp.NameWeighted && options.ECN && sender.ECTDisabled() {
		options.Logger.WarnContext(ctx, "wdctcp fell back to reno for ", connection.RemoteAddr(), ", packets still carry ECT")
	}
	go func() {
		<-connection.Context().Done()
		sender.Close()
	}()
	return nil
}
