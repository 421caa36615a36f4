package signal

import "github.com/dkeye/Stream/internal/app/orch"

func (ctl *SignalWSController) registerMediaHandlers() {
	ctl.handlers[orch.EventConnectTransport] = bind(ctl.Orch.ConnectTransport)
	ctl.handlers[orch.EventProduce] = bind(ctl.Orch.Produce)
	ctl.handlers[orch.EventConsume] = bind(ctl.Orch.Consume)
	ctl.handlers[orch.EventResumeConsumer] = bind(ctl.Orch.ResumeConsumer)
	ctl.handlers[orch.EventCloseProducer] = bind(ctl.Orch.CloseProducer)
}
