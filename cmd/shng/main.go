// Command shng runs the smart home item engine and talks to a running
// instance through its HTTP API.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shng-go/shng/config"

	_ "github.com/shng-go/shng/adapters/dummy"
	_ "github.com/shng-go/shng/adapters/graphite"
	_ "github.com/shng-go/shng/adapters/httpjson"
	_ "github.com/shng-go/shng/adapters/lirc"
	_ "github.com/shng-go/shng/adapters/mastodon"
	_ "github.com/shng-go/shng/adapters/modbus"
	_ "github.com/shng-go/shng/adapters/mqtt"
	_ "github.com/shng-go/shng/adapters/opcua"
	_ "github.com/shng-go/shng/adapters/ping"
	_ "github.com/shng-go/shng/adapters/pushbullet"
	_ "github.com/shng-go/shng/adapters/serial"
	_ "github.com/shng-go/shng/adapters/slack"
	_ "github.com/shng-go/shng/adapters/sms"
	_ "github.com/shng-go/shng/adapters/sysinfo"
	_ "github.com/shng-go/shng/adapters/telegram"
	_ "github.com/shng-go/shng/adapters/ups"
	_ "github.com/shng-go/shng/adapters/xmpp"
	_ "github.com/shng-go/shng/adapters/yeelight"
)

func usage() {
	fmt.Println("Usage: shng [flags] COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("   run                     Run the engine, bus bridge and api")
	fmt.Println("   check                   Load the config and report bindings")
	fmt.Println("   adapters                List adapter types")
	fmt.Println("   status                  Adapter status of a running instance")
	fmt.Println("   items   [prefix]        Item values")
	fmt.Println("   get     path            Item value")
	fmt.Println("   set     path value      Set an item")
	fmt.Println("   series  item [func] [start] [end] [count]")
	fmt.Println("   query   ...             Query services over the bus")
	fmt.Println()
	fmt.Println("Flags:")
	pflag.PrintDefaults()
	fmt.Println()
	fmt.Println("Every flag can also be set as SHNG_<FLAG>, e.g. SHNG_LOG_LEVEL=debug.")
}

func initConfig() {
	pflag.String("config", config.ConfigPath("shng.yml"), "path to the configuration file")
	pflag.String("log-level", "info", "log level (debug, info, warn, error)")
	pflag.String("log-file", "", "also log to this file")
	pflag.String("listen", "", "api listen address, overrides general.api")
	pflag.String("mqtt", "", "bus broker url, overrides endpoints.mqtt.broker")
	pflag.String("api", "http://localhost:8383", "api url used by the client commands")
	pflag.Usage = usage
	pflag.Parse()

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.SetEnvPrefix("shng")
	viper.AutomaticEnv()
	viper.BindPFlags(pflag.CommandLine)
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}

func main() {
	initConfig()
	args := pflag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	command, ps := args[0], args[1:]

	var err error
	switch command {
	default:
		usage()
		os.Exit(1)
	case "run":
		err = run()
	case "check":
		err = check(os.Stdout)
	case "adapters":
		listAdapters(os.Stdout)
	case "status":
		err = get(os.Stdout, "status")
	case "items":
		err = listItems(os.Stdout, ps)
	case "get":
		if len(ps) != 1 {
			usage()
			os.Exit(1)
		}
		err = get(os.Stdout, "items/"+ps[0])
	case "set":
		if len(ps) < 2 {
			usage()
			os.Exit(1)
		}
		err = set(os.Stdout, ps[0], strings.Join(ps[1:], " "))
	case "series":
		if len(ps) < 1 {
			usage()
			os.Exit(1)
		}
		err = seriesQuery(os.Stdout, ps)
	case "query":
		if len(ps) == 0 {
			usage()
			os.Exit(1)
		}
		err = query(os.Stdout, ps[0], ps[1:])
	}
	if err != nil {
		fatalf("error: %s", err)
	}
}
