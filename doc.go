// The shng smart home core
//
// Features
//
// - Typed item tree configured in YAML (bool, num, str and list items)
//
// - Adapters bound to items through item attributes (mqtt_address, modbus_address, ...)
//
// - Periodic polling on a fixed cycle or a cron schedule, on a fixed pool of workers
//
// - Writes dispatched to adapters on item changes, one ordered queue per adapter
//
// - Permanent failures take an adapter offline until it is restarted
//
// - Time series of item values with avg, min, max, last and raw queries
//
// - Item changes bridged onto an MQTT message bus
//
// - REST API, prometheus metrics and a command line client
//
// Adapters supported
//
// - MQTT topics (https://mqtt.org/)
//
// - Modbus TCP registers and coils
//
// - OPC UA nodes
//
// - apcupsd UPS status (http://www.apcupsd.org/)
//
// - ICMP ping reachability
//
// - Serial line devices speaking address=value
//
// - GSM modem text messages (SMS)
//
// - Infrared remotes through lirc (http://www.lirc.org/)
//
// - Yeelight bulbs
//
// - Jabber and Telegram messages
//
// - Slack, Pushbullet and Mastodon notifications
//
// - JSON documents over HTTP
//
// - Linux load, memory, uptime and thermal zones
//
// - Graphite (graphs)
package shng
