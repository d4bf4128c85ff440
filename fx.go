package yamux

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-yamux/pkg/interfaces/muxer"
)

// Params Transport 依赖参数
type Params struct {
	fx.In

	Config *Config `optional:"true"`
}

// Module 是 yamux 的 Fx 模块
var Module = fx.Module("yamux",
	fx.Provide(
		fx.Annotate(
			NewTransportFromParams,
			fx.As(new(muxer.MuxerFactory)),
		),
	),
)

// NewTransportFromParams 从参数创建 Transport
func NewTransportFromParams(p Params) (*Transport, error) {
	if p.Config == nil {
		return NewTransport(), nil
	}
	return NewTransportWithConfig(p.Config)
}
