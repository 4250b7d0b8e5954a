package config

var ExampleYaml = `
general:
  data_dir: /tmp/shng
  workers: 0
  api: ":8383"
endpoints:
  mqtt:
    broker: tcp://127.0.0.1:1883
series:
  bucket: 1h
  sync: 10s
lookups:
  onoff:
    "0": "off"
    "1": "on"
adapters:
  inverter:
    type: modbus
    cycle: 10s
    params:
      host: 10.0.0.5:502
      unit: 1
  ups:
    cycle: 30
    params:
      host: 127.0.0.1:3551
  lights:
    type: mqtt
    cron: "*/5 * * * *"
    write_timeout: 2s
items:
  living:
    devid: dev42
    temp:
      type: num
      modbus_address: "holding:40069"
      modbus_datatype: int16
      modbus_eval: value / 10
      series: yes
    light:
      type: bool
      mqtt_address: "<devid>/light"
      mqtt_direction: rw
  ups:
    charge:
      type: num
      ups_address: bcharge
      series: yes
`

var ExampleConfig *Config

func init() {
	var err error
	ExampleConfig, err = OpenRaw([]byte(ExampleYaml))
	if err != nil {
		panic(err)
	}
}
