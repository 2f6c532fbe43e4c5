/******************************************************************************
 *
 *  Description :
 *
 *    Setup and initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/handlers"
	jcr "github.com/tinode/jsonco"

	"github.com/oxytalk/chat/server/auth"
	"github.com/oxytalk/chat/server/auth/basic"
	"github.com/oxytalk/chat/server/logs"
	"github.com/oxytalk/chat/server/store"

	// Backends are wired in by their init().
	_ "github.com/oxytalk/chat/server/db/mem"
	_ "github.com/oxytalk/chat/server/db/sqlitedb"
)

const (
	// Default server address.
	defaultListen = ":6060"
	// Default path to the config file.
	defaultConfig = "./oxytalk.conf"
)

// Contents of the configuration file.
type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// Cert and key files; serve WSS/HTTPS when both are set.
	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
	// URL path to mount the metrics scrape handler, "" to disable.
	Metrics string `json:"metrics"`
	// Directory with the static web app, "" to disable.
	StaticData string `json:"static_data"`
	// Worker ID for unique ID generation, 0-1023.
	WorkerID int `json:"worker_id"`

	Auth        json.RawMessage `json:"auth_config"`
	StoreConfig json.RawMessage `json:"store_config"`
}

var globals struct {
	hub          *Hub
	sessionStore *SessionStore
	presence     *presenceRegistry
	authhdl      auth.Handler

	// Set during graceful termination; refuses new websocket sessions.
	shuttingDown bool
}

func main() {
	executable, _ := os.Executable()

	var configfile = flag.String("config", defaultConfig, "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on.")
	var initDb = flag.Bool("init_db", false, "Initialize the database and exit.")
	var resetDb = flag.Bool("reset_db", false, "Drop and re-create the database, then exit.")
	flag.Parse()

	logs.Init()

	logs.Info.Printf("Server started with pid %d: %s", os.Getpid(), executable)

	curwd, err := os.Getwd()
	if err != nil {
		logs.Err.Fatal("Couldn't get current working directory: ", err)
	}

	*configfile = toAbsolutePath(curwd, *configfile)
	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Err.Fatal("Failed to read config file: ", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Err.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Err.Fatal("Failed to parse config file: ", err)
			}
		}
		file.Close()
	}

	if *initDb || *resetDb {
		if err := store.Store.InitDb(config.StoreConfig, *resetDb); err != nil {
			logs.Err.Fatal("Failed to initialize the database: ", err)
		}
		logs.Info.Println("Database", store.Store.GetAdapterName(), "initialized;",
			map[bool]string{true: "was reset", false: "reset skipped"}[*resetDb])
		return
	}

	if err := store.Store.Open(config.WorkerID, config.StoreConfig); err != nil {
		logs.Err.Fatal("Failed to connect to DB: ", err)
	}
	logs.Info.Println("DB adapter opened:", store.Store.GetAdapterName())
	defer func() {
		store.Store.Close()
		logs.Info.Println("Closed database connection(s)")
		logs.Info.Println("All done, good bye")
	}()

	globals.authhdl = basic.NewAuthenticator()
	if err := globals.authhdl.Init(string(config.Auth)); err != nil {
		logs.Err.Fatal("Failed to init authenticator: ", err)
	}

	globals.presence = newPresenceRegistry()
	globals.sessionStore = NewSessionStore()
	globals.hub = newHub()

	mux := http.NewServeMux()
	mux.HandleFunc("/v0/channels", serveWebSocket)
	registerAPIRoutes(mux)
	statsInit(mux, config.Metrics)

	if config.StaticData != "" {
		staticDir := toAbsolutePath(curwd, config.StaticData)
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
		logs.Info.Printf("Serving static content from '%s'", staticDir)
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if config.Listen == "" {
		config.Listen = defaultListen
	}

	if err = listenAndServe(handlers.CombinedLoggingHandler(os.Stdout, mux),
		config.Listen, config.TLSCertFile, config.TLSKeyFile, signalHandler()); err != nil {
		logs.Err.Fatal(err)
	}
}

func toAbsolutePath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Clean(filepath.Join(base, path))
}
