package config

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const ENV_PREFIX = "HISTORIC_CACHE"

// Chain is the EVM chain id.
type Chain uint64

const (
	Chain_Ethereum  Chain = 1
	Chain_Optimism  Chain = 10
	Chain_Bsc       Chain = 56
	Chain_Polygon   Chain = 137
	Chain_Fantom    Chain = 250
	Chain_Base      Chain = 8453
	Chain_Arbitrum  Chain = 42161
	Chain_Avalanche Chain = 43114
	Chain_Linea     Chain = 59144
)

var chainNames = map[Chain]string{
	Chain_Ethereum:  "ethereum",
	Chain_Optimism:  "optimism",
	Chain_Bsc:       "bsc",
	Chain_Polygon:   "polygon",
	Chain_Fantom:    "fantom",
	Chain_Base:      "base",
	Chain_Arbitrum:  "arbitrum",
	Chain_Avalanche: "avalanche",
	Chain_Linea:     "linea",
}

func (c Chain) String() string {
	if name, ok := chainNames[c]; ok {
		return name
	}
	return strconv.FormatUint(uint64(c), 10)
}

// Id returns the numeric chain id as a string, used for labels and schema names.
func (c Chain) Id() string {
	return strconv.FormatUint(uint64(c), 10)
}

// ParseChain accepts either a chain name ("ethereum") or a numeric chain id ("1").
func ParseChain(s string) (Chain, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("chain not provided")
	}
	for c, name := range chainNames {
		if name == s {
			return c, nil
		}
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unsupported chain '%s', expected one of: %s", s, supportedChainList())
	}
	c := Chain(id)
	if _, ok := chainNames[c]; !ok {
		return 0, fmt.Errorf("unsupported chain id %d, expected one of: %s", id, supportedChainList())
	}
	return c, nil
}

func supportedChainList() string {
	names := make([]string, 0, len(chainNames))
	for _, c := range GetSupportedChains() {
		names = append(names, fmt.Sprintf("%s (%d)", c, c))
	}
	return strings.Join(names, ", ")
}

// GetSupportedChains returns every known chain ordered by chain id.
func GetSupportedChains() []Chain {
	chains := make([]Chain, 0, len(chainNames))
	for c := range chainNames {
		chains = append(chains, c)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i] < chains[j] })
	return chains
}

const defaultMaxContractsPerCall = 10

// maxContractsPerCall caps how many contract addresses may share a single eth_getLogs filter.
var maxContractsPerCall = map[Chain]int{
	Chain_Ethereum:  10,
	Chain_Optimism:  10,
	Chain_Bsc:       5,
	Chain_Polygon:   5,
	Chain_Fantom:    10,
	Chain_Base:      10,
	Chain_Arbitrum:  10,
	Chain_Avalanche: 10,
	Chain_Linea:     10,
}

func GetMaxContractsPerCall(c Chain) int {
	if m, ok := maxContractsPerCall[c]; ok {
		return m
	}
	return defaultMaxContractsPerCall
}

// chains known to emit dense logs get a finer split of the historic block range
var denseLogChains = []Chain{
	Chain_Bsc,
	Chain_Polygon,
}

const (
	defaultLogSubRangeCount = 4
	denseLogSubRangeCount   = 16
)

func IsDenseLogChain(c Chain) bool {
	return slices.Contains(denseLogChains, c)
}

// GetLogSubRangeCount returns how many concurrent sub-ranges a historic scan is split into.
func GetLogSubRangeCount(c Chain) int {
	if IsDenseLogChain(c) {
		return denseLogSubRangeCount
	}
	return defaultLogSubRangeCount
}

// Multicall3 is deployed at the same address on every supported chain.
const Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"

func parseStringAsList(envVar string) []string {
	if envVar == "" {
		return []string{}
	}
	// split on commas
	stringList := strings.Split(envVar, ",")

	for i, s := range stringList {
		stringList[i] = strings.TrimSpace(s)
	}
	l := make([]string, 0)
	for _, s := range stringList {
		if s != "" {
			l = append(l, s)
		}
	}
	return l
}

// parseChainList parses "1,10,bsc" style values. Unknown entries are returned as an error.
func parseChainList(value string) ([]Chain, error) {
	chains := make([]Chain, 0)
	for _, s := range parseStringAsList(value) {
		c, err := ParseChain(s)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(chains, c) {
			chains = append(chains, c)
		}
	}
	return chains, nil
}

// parseChainUrlMap parses "1=http://node-a:8545,bsc=http://node-b:8545".
func parseChainUrlMap(value string) (map[Chain]string, error) {
	urls := make(map[Chain]string)
	for _, pair := range parseStringAsList(value) {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid chain rpc url entry '%s', expected '<chain>=<url>'", pair)
		}
		c, err := ParseChain(parts[0])
		if err != nil {
			return nil, err
		}
		urls[c] = strings.TrimSpace(parts[1])
	}
	return urls, nil
}

type Config struct {
	Debug              bool
	Chains             []Chain
	EthereumRpcConfig  EthereumRpcConfig
	MulticallConfig    MulticallConfig
	DatabaseConfig     DatabaseConfig
	CacheBuilderConfig CacheBuilderConfig
	AdaptersConfig     AdaptersConfig
	DataDogConfig      DataDogConfig
	PrometheusConfig   PrometheusConfig
}

type EthereumRpcConfig struct {
	RpcUrls           map[Chain]string
	CallTimeout       time.Duration
	CallMaxRetries    int
	GetLogsTimeout    time.Duration
	GetLogsMaxRetries int
}

type MulticallConfig struct {
	FlushTimeout time.Duration
	MaxBatchSize int
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DbName      string
	SchemaName  string
	SSLMode     string
	SSLCert     string
	SSLKey      string
	SSLRootCert string
}

type CacheBuilderConfig struct {
	PollInterval    time.Duration
	GroupDelay      time.Duration
	RegisterOnStart bool
}

type AdaptersConfig struct {
	File string
}

type DataDogConfig struct {
	StatsdConfig struct {
		Enabled    bool
		Url        string
		SampleRate float64
	}
	EnableTracing bool
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

var (
	Debug  = "debug"
	Chains = "chains"

	EthereumRpcUrls              = "ethereum.rpc-urls"
	EthereumRpcCallTimeoutMs     = "ethereum.call-timeout-ms"
	EthereumRpcCallMaxRetries    = "ethereum.call-max-retries"
	EthereumRpcGetLogsTimeoutMs  = "ethereum.get-logs-timeout-ms"
	EthereumRpcGetLogsMaxRetries = "ethereum.get-logs-max-retries"

	MulticallFlushTimeoutMs = "multicall.flush-timeout-ms"
	MulticallMaxBatchSize   = "multicall.max-batch-size"

	DatabaseHost        = "database.host"
	DatabasePort        = "database.port"
	DatabaseUser        = "database.user"
	DatabasePassword    = "database.password"
	DatabaseDbName      = "database.db_name"
	DatabaseSchemaName  = "database.schema_name"
	DatabaseSSLMode     = "database.ssl_mode"
	DatabaseSSLCert     = "database.ssl_cert"
	DatabaseSSLKey      = "database.ssl_key"
	DatabaseSSLRootCert = "database.ssl_root_cert"

	CacheBuilderPollIntervalSeconds = "cache-builder.poll-interval-seconds"
	CacheBuilderGroupDelayMs        = "cache-builder.group-delay-ms"
	CacheBuilderRegisterOnStart     = "cache-builder.register-on-start"

	AdaptersFile = "adapters.file"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample_rate"
	DataDogEnableTracing    = "datadog.enable_tracing"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"
)

const (
	DefaultCallTimeout       = 10 * time.Second
	DefaultCallMaxRetries    = 3
	DefaultGetLogsTimeout    = 30 * time.Second
	DefaultGetLogsMaxRetries = 5
	DefaultFlushTimeout      = 10 * time.Millisecond
	DefaultMaxBatchSize      = 500
	DefaultPollInterval      = 30 * time.Second
	DefaultGroupDelay        = time.Second
)

func durationOrDefault(value int, unit time.Duration, def time.Duration) time.Duration {
	if value <= 0 {
		return def
	}
	return time.Duration(value) * unit
}

func intOrDefault(value int, def int) int {
	if value <= 0 {
		return def
	}
	return value
}

// NewConfig builds the config from whatever has been bound into viper (flags and HISTORIC_CACHE_* env vars).
// Invalid chain values are logged to stderr and dropped rather than aborting so that subcommands which
// don't need chains (e.g. database) still run.
func NewConfig() *Config {
	chains, err := parseChainList(viper.GetString(normalizeFlagName(Chains)))
	if err != nil {
		fmt.Printf("Failed to parse chains: %v\n", err)
		chains = []Chain{}
	}
	rpcUrls, err := parseChainUrlMap(viper.GetString(normalizeFlagName(EthereumRpcUrls)))
	if err != nil {
		fmt.Printf("Failed to parse rpc urls: %v\n", err)
		rpcUrls = map[Chain]string{}
	}

	return &Config{
		Debug:  viper.GetBool(normalizeFlagName(Debug)),
		Chains: chains,

		EthereumRpcConfig: EthereumRpcConfig{
			RpcUrls:           rpcUrls,
			CallTimeout:       durationOrDefault(viper.GetInt(normalizeFlagName(EthereumRpcCallTimeoutMs)), time.Millisecond, DefaultCallTimeout),
			CallMaxRetries:    intOrDefault(viper.GetInt(normalizeFlagName(EthereumRpcCallMaxRetries)), DefaultCallMaxRetries),
			GetLogsTimeout:    durationOrDefault(viper.GetInt(normalizeFlagName(EthereumRpcGetLogsTimeoutMs)), time.Millisecond, DefaultGetLogsTimeout),
			GetLogsMaxRetries: intOrDefault(viper.GetInt(normalizeFlagName(EthereumRpcGetLogsMaxRetries)), DefaultGetLogsMaxRetries),
		},

		MulticallConfig: MulticallConfig{
			FlushTimeout: durationOrDefault(viper.GetInt(normalizeFlagName(MulticallFlushTimeoutMs)), time.Millisecond, DefaultFlushTimeout),
			MaxBatchSize: intOrDefault(viper.GetInt(normalizeFlagName(MulticallMaxBatchSize)), DefaultMaxBatchSize),
		},

		DatabaseConfig: DatabaseConfig{
			Host:        viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:        viper.GetInt(normalizeFlagName(DatabasePort)),
			User:        viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:    viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:      viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName:  viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:     viper.GetString(normalizeFlagName(DatabaseSSLMode)),
			SSLCert:     viper.GetString(normalizeFlagName(DatabaseSSLCert)),
			SSLKey:      viper.GetString(normalizeFlagName(DatabaseSSLKey)),
			SSLRootCert: viper.GetString(normalizeFlagName(DatabaseSSLRootCert)),
		},

		CacheBuilderConfig: CacheBuilderConfig{
			PollInterval:    durationOrDefault(viper.GetInt(normalizeFlagName(CacheBuilderPollIntervalSeconds)), time.Second, DefaultPollInterval),
			GroupDelay:      durationOrDefault(viper.GetInt(normalizeFlagName(CacheBuilderGroupDelayMs)), time.Millisecond, DefaultGroupDelay),
			RegisterOnStart: viper.GetBool(normalizeFlagName(CacheBuilderRegisterOnStart)),
		},

		AdaptersConfig: AdaptersConfig{
			File: viper.GetString(normalizeFlagName(AdaptersFile)),
		},

		DataDogConfig: DataDogConfig{
			StatsdConfig: struct {
				Enabled    bool
				Url        string
				SampleRate float64
			}{
				Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
				Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
				SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
			},
			EnableTracing: viper.GetBool(normalizeFlagName(DataDogEnableTracing)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},
	}
}

// GetRpcUrl returns the node url configured for the given chain.
func (c *Config) GetRpcUrl(chain Chain) (string, error) {
	url, ok := c.EthereumRpcConfig.RpcUrls[chain]
	if !ok || url == "" {
		return "", fmt.Errorf("no rpc url configured for chain '%s' (%s)", chain.String(), chain.Id())
	}
	return url, nil
}

// GetChainSchemaName is the postgres schema holding a chain's jobs, logs and settings tables.
func GetChainSchemaName(chain Chain) string {
	return fmt.Sprintf("chain_%s", chain.Id())
}

func KebabToSnakeCase(str string) string {
	return regexp.MustCompile(`-`).ReplaceAllString(str, "_")
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}
