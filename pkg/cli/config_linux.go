package cli

import "flag"

func (c *Config) registerCommandLineFlagsOsSpecific() {
	flag.StringVar(&c.AdapterID, "bt-adapter", "", "ID of the Bluetooth adapter to use. Defaults to $BTSERIAL_ADAPTER or hci0.")
	flag.IntVar(&c.Channel, "channel", 0, "Dial this RFCOMM `channel` directly instead of resolving the serial port service. Defaults to $BTSERIAL_RFCOMM_CHANNEL.")
}
