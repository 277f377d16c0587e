package model

// Names of the solver variables read back by the scheduler.
const (
	VarFlow             = "flow"
	VarPower            = "power"
	VarBasinVolume      = "basin_volume"
	VarSpilledVolume    = "spilled_volume"
	VarBatteryCharge    = "battery_charge"
	VarBatteryDischarge = "battery_discharge"
	VarEndBasinVolume   = "end_basin_volume"
	VarEndSOCOverage    = "end_battery_soc_overage"
	VarEndSOCShortage   = "end_battery_soc_shortage"
	VarShortage         = "powered_volume_shortage"
	VarOverage          = "powered_volume_overage"
	VarAncillary        = "ancillary_power"
)
