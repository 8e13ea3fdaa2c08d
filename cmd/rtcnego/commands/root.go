package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	config = NewDefaultCLIConfig()
	logger = logrus.NewEntry(logrus.StandardLogger())
)

// RootCmd is the root command of rtcnego.
var RootCmd = &cobra.Command{
	Use:               "rtcnego",
	Short:             "WebRTC data channels over pluggable signaling",
	PersistentPreRunE: setup,
}

func init() {
	f := RootCmd.PersistentFlags()
	f.String("signaler", config.Signaler, "signaling server url")
	f.String("transport", config.Transport, "signaling transport: ws, wamp, lens2 or mqtt")
	f.String("id", config.ID, "own id for wamp, lens2 and mqtt, random when empty")
	f.String("realm", config.Realm, "wamp realm or mqtt topic prefix")
	f.StringSlice("ice-servers", config.ICEServers, "ICE server urls")
	f.Uint16("port", config.Port, "single udp port shared by all peer connections, 0 for ephemeral ports")
	f.Duration("timeout", config.Timeout, "negotiation and handshake deadline")
	f.String("loglevel", config.LogLevel, "debug, info, warn, error, fatal, panic")
	f.String("logfile", config.LogFile, "also write json logs to this file")
	f.String("ca", config.CAFile, "certificate of the wamp router to trust")
	f.Bool("insecure", config.Insecure, "accept any wamp router certificate")

	RootCmd.AddCommand(
		NewSignalCmd(),
		NewGatherCmd(),
		NewConnectCmd(),
		NewListenCmd(),
	)
}

func setup(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	conf, err := loadConfig(v)
	if err != nil {
		return err
	}
	config = conf

	l, err := newLogger(config.LogLevel, config.LogFile)
	if err != nil {
		return err
	}
	logger = l.WithField("prefix", cmd.Name())

	logger.WithFields(logrus.Fields{
		"signaler":    config.Signaler,
		"transport":   config.Transport,
		"ice-servers": config.ICEServers,
		"port":        config.Port,
		"timeout":     config.Timeout,
	}).Debug("config loaded")
	return nil
}
