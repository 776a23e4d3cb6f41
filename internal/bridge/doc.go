// Package bridge translates between MQTT light commands and DALI frames.
//
// Each configured light gets command topics (set, brightness/set,
// color_temperature/set) and retained state topics. Commands become
// direct-arc-power frames or command sequences on the bus; frames and
// decode errors observed by the monitor are published on the bus topics,
// row-logged to SQLite, and counted in InfluxDB.
//
// Retry policy lives here, not in the transmitter: a busy bus is retried
// after one settling period, up to three attempts per frame. Brightness
// changes ramp through intermediate levels rather than jumping, which is
// gentler on the eye and matches how wall dimmers behave.
//
// The bridge depends on narrow local interfaces (Sender, MQTTClient,
// FrameLog, Metrics) so tests can run against fakes and main can wire
// real implementations.
package bridge
