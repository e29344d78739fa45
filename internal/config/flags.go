package config

import "flag"

var (
	Dev        bool
	LogPath    string
	ConfigPath string
	Addr       string
)

func Init() {
	flag.BoolVar(&Dev, "dev", false, "Development mode")
	flag.StringVar(&LogPath, "logPath", "", "Path to save the log file")
	flag.StringVar(&ConfigPath, "config", "config.yaml", "Path to the provider/persona config file")
	flag.StringVar(&Addr, "addr", "", "Listen address, overrides the mode default")
	flag.Parse()
}
