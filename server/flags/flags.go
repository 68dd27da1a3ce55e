package flags

const (
	NatsConfig  = "nats-config" // NatsConfig is the flag naming a nats configuration file.
	Server      = "server"      // Server is the flag naming the NATS server to connect to.
	ServerShort = "s"           // ServerShort is the short form of Server.
	Workflow    = "workflow"    // Workflow restricts a command to one workflow.
	Debug       = "debug"       // Debug names a file to receive every event as JSON.
)

// Set holds the values of the command line flags.
type Set struct {
	NatsConfig string
	Server     string
	Workflow   string
	Debug      string
}

// Value contains the parsed flags.
var Value Set
