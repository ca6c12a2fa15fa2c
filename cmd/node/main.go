// Command node starts an hlcnode validator.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rubin-dev/hlcnode/blockstore"
	"github.com/rubin-dev/hlcnode/chain"
	"github.com/rubin-dev/hlcnode/config"
	"github.com/rubin-dev/hlcnode/crypto/certgen"
	"github.com/rubin-dev/hlcnode/events"
	"github.com/rubin-dev/hlcnode/hlc"
	"github.com/rubin-dev/hlcnode/indexer"
	"github.com/rubin-dev/hlcnode/minter"
	"github.com/rubin-dev/hlcnode/missingblocks"
	"github.com/rubin-dev/hlcnode/orchestrator"
	"github.com/rubin-dev/hlcnode/p2p"
	"github.com/rubin-dev/hlcnode/procqueue"
	"github.com/rubin-dev/hlcnode/reprocessor"
	"github.com/rubin-dev/hlcnode/rpc"
	"github.com/rubin-dev/hlcnode/statedriver"
	"github.com/rubin-dev/hlcnode/storage"
	"github.com/rubin-dev/hlcnode/txqueue"
	"github.com/rubin-dev/hlcnode/validationqueue"
	"github.com/rubin-dev/hlcnode/vm"
	"github.com/rubin-dev/hlcnode/wallet"

	_ "github.com/rubin-dev/hlcnode/vm/modules/currency"
)

func main() {
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit (requires -config)")
	cfgPathForCerts := flag.String("config", "", "path to node config JSON (used by -genkey/-gencerts)")
	keyPathForGenkey := flag.String("key", "validator.key", "path to keystore file (used by -genkey)")
	flag.Parse()

	password := os.Getenv("HLCNODE_PASSWORD")
	if password == "" {
		log.Println("WARNING: HLCNODE_PASSWORD not set, keystore will use an empty password")
	}

	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(*keyPathForGenkey, password, w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPathForGenkey)
		return
	}

	if *genCerts != "" {
		if *cfgPathForCerts == "" {
			log.Fatal("gencerts: -config is required")
		}
		cfg, err := config.Load(*cfgPathForCerts)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if err := certgen.GenerateAll(*genCerts, cfg.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfg.NodeID)
		return
	}

	cfg, err := config.ParseFlags(flag.NewFlagSet("node", flag.ExitOnError), os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	priv, err := wallet.LoadKey(cfg.WalletPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := blockstore.New(db)
	driver := statedriver.New(db)
	idx := indexer.New(db)

	hasGenesis, err := store.HasGenesis()
	if err != nil {
		log.Fatalf("check genesis: %v", err)
	}
	if !hasGenesis {
		if cfg.GenesisPath == "" {
			log.Fatal("no genesis block stored and no -genesis path given")
		}
		genesisBlock, err := config.CreateGenesisBlock(cfg.GenesisPath, priv)
		if err != nil {
			log.Fatalf("genesis: %v", err)
		}
		if err := store.StoreBlock(genesisBlock); err != nil {
			log.Fatalf("store genesis: %v", err)
		}
		log.Printf("Genesis block committed: %s", genesisBlock.Hash)
	}

	if cfg.RollbackTo != "" {
		rollbackTS := hlc.Timestamp(cfg.RollbackTo)
		driver.RollbackTo(rollbackTS)
		if b, err := store.GetBlockByHLC(rollbackTS); err == nil {
			if err := store.RewindToHeight(b.Number); err != nil {
				log.Fatalf("rollback: %v", err)
			}
		} else if err != blockstore.ErrNotFound {
			log.Fatalf("rollback: %v", err)
		}
		log.Printf("Rolled back speculative state and chain tail to %s", cfg.RollbackTo)
	}

	emitter := events.NewEmitter()
	if cfg.ObserverDir != "" {
		sink, err := events.NewFileSink(cfg.ObserverDir)
		if err != nil {
			log.Fatalf("events sink: %v", err)
		}
		sink.Attach(emitter)
	}

	sortedMembers := append([]string(nil), cfg.Members...)
	sort.Strings(sortedMembers)
	membersHash, err := chain.MembersListHash(sortedMembers)
	if err != nil {
		log.Fatalf("members list hash: %v", err)
	}

	clock := hlc.New()
	exec := vm.NewExecutor(vm.Global(), emitter)
	procQ := procqueue.New(driver, exec,
		time.Duration(cfg.ProcessingDelayBaseMS)*time.Millisecond,
		time.Duration(cfg.ProcessingDelaySelfMS)*time.Millisecond)
	mint := minter.New(store, driver, emitter)

	var node *p2p.Node
	valQ := validationqueue.New(len(cfg.Members), cfg.ConsensusPercent, membersHash, func(ts hlc.Timestamp) bool {
		_, err := store.GetBlockByHLC(ts)
		return err == nil
	})

	reproc := reprocessor.New(driver, procQ, func(pr chain.ProcessingResult) {
		if node != nil {
			node.BroadcastProcessingResult(pr)
		}
	})

	missingDir := cfg.DataDir + "/missing_blocks"
	txqDir := cfg.DataDir + "/tx_queue"
	txq, err := txqueue.New(txqDir)
	if err != nil {
		log.Fatalf("tx queue: %v", err)
	}

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	networkMapFn := func() p2p.NetworkMapResponse {
		members := make(map[string]string, len(cfg.Members))
		for _, vk := range cfg.Members {
			members[vk] = ""
		}
		return p2p.NetworkMapResponse{Masternodes: members, Delegates: map[string]string{}}
	}

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node = p2p.NewNode(priv, p2pAddr, tlsCfg, store, networkMapFn)

	missing := missingblocks.New(missingDir, db, store, driver, idx, node, emitter)

	orchCfg := orchestrator.Config{
		NumOfMembers:    len(cfg.Members),
		MembersListHash: membersHash,
	}
	orch := orchestrator.New(orchCfg, clock, priv, store, txq, procQ, valQ, mint, reproc, missing, node, emitter)

	node.Subscribe(p2p.TopicWork, func(peer *p2p.Peer, payload json.RawMessage) {
		var tm chain.TxMessage
		if err := json.Unmarshal(payload, &tm); err != nil {
			log.Printf("work payload: %v", err)
			return
		}
		orch.HandlePeerWork(tm)
	})
	node.Subscribe(p2p.TopicContenders, func(peer *p2p.Peer, payload json.RawMessage) {
		var pr chain.ProcessingResult
		if err := json.Unmarshal(payload, &pr); err != nil {
			log.Printf("contenders payload: %v", err)
			return
		}
		orch.HandlePeerProof(pr)
	})

	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	var peerLatest []uint64
	for _, sp := range cfg.SeedPeers {
		hello, err := node.AddPeer(sp.ID, sp.Addr)
		if err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
		if hello != nil {
			peerLatest = append(peerLatest, hello.LatestBlockNumber)
		}
	}

	if !cfg.NoValidateChain {
		if err := orchestrator.ValidateChain(store); err != nil {
			log.Fatalf("chain validation: %v", err)
		}
		log.Println("Chain validated end to end")
	}

	if !cfg.NoCatchup && len(peerLatest) > 0 {
		if err := orch.CatchUp(peerLatest, 10); err != nil {
			log.Printf("catch-up: %v", err)
		}
	}

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(store, driver, idx, txq, procQ)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	orch.Start()
	log.Printf("Orchestrator pumps running (validator: %s)", priv.Public().Hex())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	orch.Stop()

	log.Println("Shutdown complete.")
}

