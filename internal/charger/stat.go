package charger

import (
	"expvar"
	"fmt"
)

type Stat struct {
	TextFrames     expvar.Int
	BinaryFrames   expvar.Int
	Overflows      expvar.Int
	BadChecksums   expvar.Int
	Blocks         expvar.Int
	Publishes      expvar.Int
	PublishErrors  expvar.Int
	Commands       expvar.Int
	SetpointErrors expvar.Int
}

func (self *Stat) String() string {
	return fmt.Sprintf("frames text=%d binary=%d overflow=%d bad_checksum=%d blocks=%d publish=%d publish_error=%d commands=%d setpoint_error=%d",
		self.TextFrames.Value(), self.BinaryFrames.Value(), self.Overflows.Value(), self.BadChecksums.Value(),
		self.Blocks.Value(), self.Publishes.Value(), self.PublishErrors.Value(), self.Commands.Value(), self.SetpointErrors.Value())
}
