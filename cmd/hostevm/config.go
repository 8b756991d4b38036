package main

import (
	"bufio"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/log"
	"github.com/moved-network/hostevm/core"
	"github.com/moved-network/hostevm/core/vm"
	evmbridge "github.com/moved-network/hostevm/evm_bridge"
	"github.com/moved-network/hostevm/evm_bridge/gasbridge"
	"github.com/moved-network/hostevm/storage"
	"github.com/moved-network/hostevm/trie"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chainid",
		Usage: "Chain id of the guest environment",
		Value: defaultConfig.Chain.ChainID,
	}
	genesisFlag = &cli.StringFlag{
		Name:  "genesis",
		Usage: "Genesis JSON file used to initialise an empty database",
	}
	coinbaseFlag = &cli.StringFlag{
		Name:  "coinbase",
		Usage: "Address receiving transaction fees",
	}
	guestRateFlag = &cli.Uint64Flag{
		Name:  "bridge.rate.guest",
		Usage: "Guest gas units per host gas rate term",
		Value: defaultConfig.Bridge.GasRate.Guest,
	}
	hostRateFlag = &cli.Uint64Flag{
		Name:  "bridge.rate.host",
		Usage: "Host gas units per guest gas rate term",
		Value: defaultConfig.Bridge.GasRate.Host,
	}
	specFlag = &cli.StringFlag{
		Name:  "bridge.spec",
		Usage: "Guest instruction set (london, shanghai, cancun)",
		Value: defaultConfig.Bridge.Spec,
	}
	engineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: "Storage engine (memory, leveldb, pebble)",
		Value: defaultConfig.Storage.Engine,
	}
	datadirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory of the persistent storage engines",
	}
	cacheFlag = &cli.IntFlag{
		Name:  "cache",
		Usage: "Megabytes of memory allocated to database and trie caching",
		Value: defaultConfig.Storage.CacheMB,
	}

	configFlags = []cli.Flag{
		configFileFlag,
		chainIDFlag,
		genesisFlag,
		coinbaseFlag,
		guestRateFlag,
		hostRateFlag,
		specFlag,
		engineFlag,
		datadirFlag,
		cacheFlag,
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type chainConfig struct {
	ChainID     uint64
	GenesisFile string `toml:",omitempty"`
	Coinbase    common.Address
	BaseFee     *big.Int `toml:",omitempty"` // overrides the genesis base fee
}

type gasRateConfig struct {
	Guest uint64
	Host  uint64
}

type bridgeConfig struct {
	GasRate gasRateConfig
	Spec    string
}

type storageConfig struct {
	Engine  string
	Path    string `toml:",omitempty"`
	CacheMB int
	Handles int
}

type hostevmConfig struct {
	Chain   chainConfig
	Bridge  bridgeConfig
	Storage storageConfig
}

var defaultConfig = hostevmConfig{
	Chain: chainConfig{ChainID: 404},
	Bridge: bridgeConfig{
		GasRate: gasRateConfig{
			Guest: gasbridge.DefaultRate.Guest,
			Host:  gasbridge.DefaultRate.Host,
		},
		Spec: vm.SpecLatest.String(),
	},
	Storage: storageConfig{
		Engine:  storage.EngineMemory,
		CacheMB: 256,
		Handles: 512,
	},
}

func loadConfig(file string, cfg *hostevmConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the defaults, then the config file, then applies the
// command line flags.
func makeConfig(ctx *cli.Context) (hostevmConfig, error) {
	cfg := defaultConfig
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(chainIDFlag.Name) {
		cfg.Chain.ChainID = ctx.Uint64(chainIDFlag.Name)
	}
	if ctx.IsSet(genesisFlag.Name) {
		cfg.Chain.GenesisFile = ctx.String(genesisFlag.Name)
	}
	if ctx.IsSet(coinbaseFlag.Name) {
		addr := ctx.String(coinbaseFlag.Name)
		if !common.IsHexAddress(addr) {
			return cfg, fmt.Errorf("invalid coinbase %q", addr)
		}
		cfg.Chain.Coinbase = common.HexToAddress(addr)
	}
	if ctx.IsSet(guestRateFlag.Name) {
		cfg.Bridge.GasRate.Guest = ctx.Uint64(guestRateFlag.Name)
	}
	if ctx.IsSet(hostRateFlag.Name) {
		cfg.Bridge.GasRate.Host = ctx.Uint64(hostRateFlag.Name)
	}
	if ctx.IsSet(specFlag.Name) {
		cfg.Bridge.Spec = ctx.String(specFlag.Name)
	}
	if ctx.IsSet(engineFlag.Name) {
		cfg.Storage.Engine = ctx.String(engineFlag.Name)
	}
	if ctx.IsSet(datadirFlag.Name) {
		cfg.Storage.Path = ctx.String(datadirFlag.Name)
	}
	if ctx.IsSet(cacheFlag.Name) {
		cfg.Storage.CacheMB = ctx.Int(cacheFlag.Name)
	}
	return cfg, nil
}

// node is the set of long-lived objects the commands operate on.
type node struct {
	db     storage.KeyValueStore
	chain  *core.Chain
	bridge *evmbridge.Bridge
}

func (n *node) Close() {
	if err := n.db.Close(); err != nil {
		log.Error("Failed to close database", "err", err)
	}
}

func (cfg *hostevmConfig) genesis() (*core.Genesis, error) {
	genesis := core.DefaultGenesis()
	if cfg.Chain.GenesisFile != "" {
		var err error
		if genesis, err = core.ReadGenesis(cfg.Chain.GenesisFile); err != nil {
			return nil, err
		}
	}
	if cfg.Chain.BaseFee != nil {
		genesis.BaseFee = (*math.HexOrDecimal256)(new(big.Int).Set(cfg.Chain.BaseFee))
	}
	if genesis.Coinbase == (common.Address{}) {
		genesis.Coinbase = cfg.Chain.Coinbase
	}
	return genesis, nil
}

// makeNode opens the storage engine and the chain it holds, initialising it
// from genesis if it is empty.
func makeNode(cfg *hostevmConfig, opts *core.Options) (*node, error) {
	spec, ok := vm.ParseSpec(cfg.Bridge.Spec)
	if !ok {
		return nil, fmt.Errorf("unknown spec %q", cfg.Bridge.Spec)
	}
	bridge, err := evmbridge.New(&evmbridge.Config{
		Rate: gasbridge.Rate{Guest: cfg.Bridge.GasRate.Guest, Host: cfg.Bridge.GasRate.Host},
	})
	if err != nil {
		return nil, err
	}
	genesis, err := cfg.genesis()
	if err != nil {
		return nil, err
	}
	// Half of the cache goes to database handles, the rest to trie nodes.
	db, err := storage.Open(cfg.Storage.Engine, cfg.Storage.Path, cfg.Storage.CacheMB/2, cfg.Storage.Handles)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = new(core.Options)
	}
	if opts.Trie == nil {
		opts.Trie = &trie.Config{CleanCacheSize: cfg.Storage.CacheMB / 2 * 1024 * 1024}
	}
	chain, err := core.NewChain(db, vm.ChainConfig(cfg.Chain.ChainID, spec), genesis, bridge, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &node{db: db, chain: chain, bridge: bridge}, nil
}
