package launcher

import (
	"club-link/relay"
	"fmt"
	"github.com/spf13/cobra"
	"net"
	"strconv"
	"time"
)

// RelayInfo holds the settings of the chat relay server.
type RelayInfo struct {
	Bind            string
	Port            int
	MaxConnections  int
	MailboxSize     int
	RoomIdleTimeout time.Duration
	LogLevel        int
	LogPath         string
}

func (r *RelayInfo) Validate() error {
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", r.Port)
	}

	if r.MaxConnections < 0 {
		return fmt.Errorf("--max-connections cannot be negative, got %d", r.MaxConnections)
	}

	if r.MailboxSize <= 0 {
		return fmt.Errorf("--mailbox-size must be positive, got %d", r.MailboxSize)
	}

	return nil
}

func (r *RelayInfo) Address() string {
	return net.JoinHostPort(r.Bind, strconv.Itoa(r.Port))
}

func (r *RelayInfo) ServerConfig() relay.Config {
	return relay.Config{
		MaxConnections:  r.MaxConnections,
		MailboxSize:     r.MailboxSize,
		RoomIdleTimeout: r.RoomIdleTimeout,
	}
}

// NewRelayCommand builds the relay command. run is called with validated settings.
func NewRelayCommand(info *RelayInfo, run func(cmd *cobra.Command, info *RelayInfo) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat-relay",
		Short: "Store-and-forward chat relay for club-link clients.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := info.Validate(); err != nil {
				return err
			}
			return run(cmd, info)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&info.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: CHATRELAY_BIND)")
	fs.IntVarP(&info.Port, "port", "p", 7480, "port to listen on (env: CHATRELAY_PORT)")
	fs.IntVar(&info.MaxConnections, "max-connections", 512, "simultaneous connections accepted, 0 for no limit (env: CHATRELAY_MAX_CONNECTIONS)")
	fs.IntVar(&info.MailboxSize, "mailbox-size", 64, "frames buffered per member before it is dropped (env: CHATRELAY_MAILBOX_SIZE)")
	fs.DurationVar(&info.RoomIdleTimeout, "room-idle-timeout", 30*time.Minute, "time before an empty room is removed (env: CHATRELAY_ROOM_IDLE_TIMEOUT)")
	fs.IntVar(&info.LogLevel, "log-level", 0, "log level: -1 - Debug, 0 - Info, 1 - Warn, 2 - Error (env: CHATRELAY_LOG_LEVEL)")
	fs.StringVar(&info.LogPath, "log-path", "", "directory for log files, defaults to 'logs' under the working directory (env: CHATRELAY_LOG_PATH)")

	bindEnvironment(cmd, "CHATRELAY")
	return cmd
}
