package midi

import "fmt"

// Controller is a MIDI 1.0 Continuous Controller number (0x00-0x7F).
// The values are the canonical assignments and must not be renumbered.
type Controller uint8

const (
	BankSelectCoarse Controller = iota
	ModulationWheelCoarse
	BreathControllerCoarse
	_
	FootControllerCoarse
	PortamentoTimeCoarse
	DataEntryCoarse
	ChannelVolumeCoarse
	BalanceCoarse
	_
	PanCoarse
	ExpressionCoarse
	EffectControl1Coarse
	EffectControl2Coarse
)

const (
	GeneralPurposeController1 Controller = iota + 0x10
	GeneralPurposeController2
	GeneralPurposeController3
	GeneralPurposeController4
)

const (
	BankSelectFine Controller = iota + 0x20
	ModulationWheelFine
	BreathControllerFine
	_
	FootControllerFine
	PortamentoTimeFine
	DataEntryFine
	ChannelVolumeFine
	BalanceFine
	_
	PanFine
	ExpressionFine
	EffectControl1Fine
	EffectControl2Fine
)

const (
	HoldPedal1 Controller = iota + 0x40
	PortamentoPedal
	SostenutoPedal
	SoftPedal
	LegatoPedal
	HoldPedal2
	SoundController1
	SoundController2
	SoundController3
	SoundController4
	SoundController5
	SoundController6
	SoundController7
	SoundController8
	SoundController9
	SoundController10
	GeneralPurposeController5
	GeneralPurposeController6
	GeneralPurposeController7
	GeneralPurposeController8
	PortamentoControl
)

const HighResolutionVelocityPrefix Controller = 0x58

const (
	Effect1Depth Controller = iota + 0x5B
	Effect2Depth
	Effect3Depth
	Effect4Depth
	Effect5Depth
	DataButtonIncrement
	DataButtonDecrement
	NonRegisteredParameterFine
	NonRegisteredParameterCoarse
	RegisteredParameterFine
	RegisteredParameterCoarse
)

// Channel mode messages.
const (
	AllSoundOff Controller = iota + 0x78
	AllControllersOff
	LocalControl
	AllNotesOff
	OmniModeOff
	OmniModeOn
	PolyModeOff
	PolyModeOn
)

var controllerNames = map[Controller]string{
	BankSelectCoarse:             "BankSelectCoarse",
	ModulationWheelCoarse:        "ModulationWheelCoarse",
	BreathControllerCoarse:       "BreathControllerCoarse",
	FootControllerCoarse:         "FootControllerCoarse",
	PortamentoTimeCoarse:         "PortamentoTimeCoarse",
	DataEntryCoarse:              "DataEntryCoarse",
	ChannelVolumeCoarse:          "ChannelVolumeCoarse",
	BalanceCoarse:                "BalanceCoarse",
	PanCoarse:                    "PanCoarse",
	ExpressionCoarse:             "ExpressionCoarse",
	EffectControl1Coarse:         "EffectControl1Coarse",
	EffectControl2Coarse:         "EffectControl2Coarse",
	GeneralPurposeController1:    "GeneralPurposeController1",
	GeneralPurposeController2:    "GeneralPurposeController2",
	GeneralPurposeController3:    "GeneralPurposeController3",
	GeneralPurposeController4:    "GeneralPurposeController4",
	BankSelectFine:               "BankSelectFine",
	ModulationWheelFine:          "ModulationWheelFine",
	BreathControllerFine:         "BreathControllerFine",
	FootControllerFine:           "FootControllerFine",
	PortamentoTimeFine:           "PortamentoTimeFine",
	DataEntryFine:                "DataEntryFine",
	ChannelVolumeFine:            "ChannelVolumeFine",
	BalanceFine:                  "BalanceFine",
	PanFine:                      "PanFine",
	ExpressionFine:               "ExpressionFine",
	EffectControl1Fine:           "EffectControl1Fine",
	EffectControl2Fine:           "EffectControl2Fine",
	HoldPedal1:                   "HoldPedal1",
	PortamentoPedal:              "PortamentoPedal",
	SostenutoPedal:               "SostenutoPedal",
	SoftPedal:                    "SoftPedal",
	LegatoPedal:                  "LegatoPedal",
	HoldPedal2:                   "HoldPedal2",
	SoundController1:             "SoundController1",
	SoundController2:             "SoundController2",
	SoundController3:             "SoundController3",
	SoundController4:             "SoundController4",
	SoundController5:             "SoundController5",
	SoundController6:             "SoundController6",
	SoundController7:             "SoundController7",
	SoundController8:             "SoundController8",
	SoundController9:             "SoundController9",
	SoundController10:            "SoundController10",
	GeneralPurposeController5:    "GeneralPurposeController5",
	GeneralPurposeController6:    "GeneralPurposeController6",
	GeneralPurposeController7:    "GeneralPurposeController7",
	GeneralPurposeController8:    "GeneralPurposeController8",
	PortamentoControl:            "PortamentoControl",
	HighResolutionVelocityPrefix: "HighResolutionVelocityPrefix",
	Effect1Depth:                 "Effect1Depth",
	Effect2Depth:                 "Effect2Depth",
	Effect3Depth:                 "Effect3Depth",
	Effect4Depth:                 "Effect4Depth",
	Effect5Depth:                 "Effect5Depth",
	DataButtonIncrement:          "DataButtonIncrement",
	DataButtonDecrement:          "DataButtonDecrement",
	NonRegisteredParameterFine:   "NonRegisteredParameterFine",
	NonRegisteredParameterCoarse: "NonRegisteredParameterCoarse",
	RegisteredParameterFine:      "RegisteredParameterFine",
	RegisteredParameterCoarse:    "RegisteredParameterCoarse",
	AllSoundOff:                  "AllSoundOff",
	AllControllersOff:            "AllControllersOff",
	LocalControl:                 "LocalControl",
	AllNotesOff:                  "AllNotesOff",
	OmniModeOff:                  "OmniModeOff",
	OmniModeOn:                   "OmniModeOn",
	PolyModeOff:                  "PolyModeOff",
	PolyModeOn:                   "PolyModeOn",
}

func (c Controller) String() string {
	if name, ok := controllerNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Controller(0x%02X)", uint8(c))
}

// IsChannelMode reports whether c is one of the channel mode messages
// (0x78-0x7F) rather than a regular controller.
func (c Controller) IsChannelMode() bool {
	return c >= AllSoundOff && c <= PolyModeOn
}
