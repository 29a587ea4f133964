// Package launcher turns command line flags and CLUBLINK_* / CHATRELAY_* environment
// variables into the settings of the two binaries.
package launcher

import (
	"club-link/protocol"
	"club-link/session"
	"errors"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	TransportWebsocket = "ws"
	TransportHTTP      = "http"
)

// Info holds the settings of one chat member's client.
type Info struct {
	MemberId          int64
	MemberName        string
	Peers             []string
	Npcs              []string
	RelayURL          string
	Room              string
	Transport         string
	CatalogPath       string
	ReconnectInterval time.Duration
	InviteTTL         time.Duration
	MatchIdleTTL      time.Duration
	ScorePollInterval time.Duration
	HookRetryInterval time.Duration
	HookRetryAttempts int
	LogLevel          int
	LogPath           string
}

// Peer is another chat member given on the command line as id:name[:owned].
type Peer struct {
	Id    protocol.MemberId
	Name  string
	Owned bool
}

func (i *Info) Validate() error {
	if i.MemberId <= 0 {
		return errors.New("--member-id is required and must be a positive number")
	}

	if strings.TrimSpace(i.MemberName) == "" {
		return errors.New("--member-name is required and cannot be empty")
	}

	if i.Transport != TransportWebsocket && i.Transport != TransportHTTP {
		return fmt.Errorf("--transport must be %q or %q, got %q", TransportWebsocket, TransportHTTP, i.Transport)
	}

	if u, err := url.Parse(i.RelayURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("--relay-url must be an absolute url, got %q", i.RelayURL)
	}

	if i.Room == "" {
		return errors.New("--room is required and cannot be empty")
	}

	if i.HookRetryAttempts <= 0 {
		return fmt.Errorf("--hook-retry-attempts must be positive, got %d", i.HookRetryAttempts)
	}

	if _, err := i.ParsePeers(); err != nil {
		return err
	}

	if _, err := i.ParseNpcs(); err != nil {
		return err
	}

	return nil
}

// ParsePeers decodes the --peer values.
func (i *Info) ParsePeers() ([]Peer, error) {
	peers := make([]Peer, 0, len(i.Peers))
	seen := map[protocol.MemberId]bool{i.MemberId: true}
	for _, raw := range i.Peers {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
			return nil, fmt.Errorf("--peer %q must look like id:name[:owned]", raw)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("--peer %q has an invalid member id", raw)
		}
		if seen[id] {
			return nil, fmt.Errorf("--peer %q repeats member %d", raw, id)
		}
		seen[id] = true

		peer := Peer{Id: id, Name: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "owned" {
				return nil, fmt.Errorf("--peer %q has unknown flag %q", raw, parts[2])
			}
			peer.Owned = true
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// ParseNpcs decodes the --npc values, given as id:name[:title].
func (i *Info) ParseNpcs() ([]protocol.NpcSnapshot, error) {
	npcs := make([]protocol.NpcSnapshot, 0, len(i.Npcs))
	for _, raw := range i.Npcs {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("--npc %q must look like id:name[:title]", raw)
		}
		npc := protocol.NpcSnapshot{Id: parts[0], Name: parts[1]}
		if len(parts) == 3 {
			npc.Title = parts[2]
		}
		npcs = append(npcs, npc)
	}
	return npcs, nil
}

func (i *Info) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.InviteTTL = i.InviteTTL
	cfg.MatchIdleTTL = i.MatchIdleTTL
	cfg.ScorePollInterval = i.ScorePollInterval
	cfg.HookRetryInterval = i.HookRetryInterval
	cfg.HookRetryAttempts = i.HookRetryAttempts
	return cfg
}

// NewCommand builds the client command. run is called with validated settings.
func NewCommand(info *Info, run func(cmd *cobra.Command, info *Info) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "club-link",
		Short: "Invite chat room members to mini-games and shared rooms.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := info.Validate(); err != nil {
				return err
			}
			return run(cmd, info)
		},
	}

	defaults := session.DefaultConfig()
	fs := cmd.Flags()
	fs.Int64Var(&info.MemberId, "member-id", 0, "chat member id of the local player (env: CLUBLINK_MEMBER_ID)")
	fs.StringVar(&info.MemberName, "member-name", "", "display name of the local player (env: CLUBLINK_MEMBER_NAME)")
	fs.StringArrayVar(&info.Peers, "peer", nil, "another chat member as id:name[:owned], repeatable (env: CLUBLINK_PEER)")
	fs.StringArrayVar(&info.Npcs, "npc", nil, "a companion present with you as id:name[:title], repeatable (env: CLUBLINK_NPC)")
	fs.StringVar(&info.RelayURL, "relay-url", "http://127.0.0.1:7480", "root url of the chat relay (env: CLUBLINK_RELAY_URL)")
	fs.StringVar(&info.Room, "room", "lobby", "chat room to join (env: CLUBLINK_ROOM)")
	fs.StringVar(&info.Transport, "transport", TransportWebsocket, "relay transport, ws or http (env: CLUBLINK_TRANSPORT)")
	fs.StringVar(&info.CatalogPath, "catalog", "", "TOML file replacing the built-in activity and room catalogue (env: CLUBLINK_CATALOG)")
	fs.DurationVar(&info.ReconnectInterval, "reconnect-interval", 2*time.Second, "delay between relay reconnect attempts (env: CLUBLINK_RECONNECT_INTERVAL)")
	fs.DurationVar(&info.InviteTTL, "invite-ttl", defaults.InviteTTL, "time before an unanswered invitation is forgotten (env: CLUBLINK_INVITE_TTL)")
	fs.DurationVar(&info.MatchIdleTTL, "match-idle-ttl", defaults.MatchIdleTTL, "time before an idle match stops syncing scores (env: CLUBLINK_MATCH_IDLE_TTL)")
	fs.DurationVar(&info.ScorePollInterval, "score-poll-interval", defaults.ScorePollInterval, "how often the scoreboard is checked (env: CLUBLINK_SCORE_POLL_INTERVAL)")
	fs.DurationVar(&info.HookRetryInterval, "hook-retry-interval", defaults.HookRetryInterval, "delay between host hook installation attempts (env: CLUBLINK_HOOK_RETRY_INTERVAL)")
	fs.IntVar(&info.HookRetryAttempts, "hook-retry-attempts", defaults.HookRetryAttempts, "host hook installation attempts before giving up (env: CLUBLINK_HOOK_RETRY_ATTEMPTS)")
	fs.IntVar(&info.LogLevel, "log-level", 1, "log level: -1 - Debug, 0 - Info, 1 - Warn, 2 - Error (env: CLUBLINK_LOG_LEVEL)")
	fs.StringVar(&info.LogPath, "log-path", "", "directory for log files, defaults to 'logs' under the working directory (env: CLUBLINK_LOG_PATH)")

	bindEnvironment(cmd, "CLUBLINK")
	return cmd
}

// bindEnvironment lets PREFIX_FLAG_NAME environment variables fill flags not given on
// the command line.
func bindEnvironment(cmd *cobra.Command, prefix string) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindEnv(f.Name)
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if f.Value.Type() == "stringArray" {
			for _, item := range strings.Split(v.GetString(f.Name), ",") {
				if item = strings.TrimSpace(item); item != "" {
					_ = fs.Set(f.Name, item)
				}
			}
			return
		}
		_ = fs.Set(f.Name, v.GetString(f.Name))
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
}
