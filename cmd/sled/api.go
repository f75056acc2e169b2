package main

import (
	"encoding/json"
	"io"
	"io/ioutil"
	stdlog "log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/resinworks/sled/engine"
	"github.com/resinworks/sled/projector"
	"github.com/resinworks/sled/settings"
)

// printCommands maps the command API verb onto an engine command.
var printCommands = map[string]engine.Command{
	"start":      engine.Start,
	"cancel":     engine.Cancel,
	"pause":      engine.PausePrint,
	"resume":     engine.ResumePrint,
	"reset":      engine.ResetPrinter,
	"rehome":     engine.ReHome,
	"test":       engine.ShowTestPattern,
	"register":   engine.StartRegistering,
	"registered": engine.RegistrationSucceeded,
}

// eventTypes names the raw event sources for bench injection.
var eventTypes = map[string]engine.EventType{
	"motor":  engine.MotorInterrupt,
	"button": engine.ButtonInterrupt,
	"door":   engine.DoorInterrupt,
}

type api struct {
	http.Handler
	eng     *engine.Engine
	disp    *projector.Projector
	store   *settings.Store
	dataDir string
	log     *logrus.Logger
	sse     *sse.Server
}

func newAPI(eng *engine.Engine, disp *projector.Projector, store *settings.Store, dir string, log *logrus.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		eng:     eng,
		disp:    disp,
		store:   store,
		dataDir: dir,
		log:     log,
		sse: sse.NewServer(&sse.Options{
			Logger: stdlog.New(ioutil.Discard, "", 0),
		}),
	}

	r.HandleFunc("/api/command/{name}", a.command).Methods("POST")
	r.HandleFunc("/api/event/{source}", a.injectEvent).Methods("POST")
	r.HandleFunc("/api/projector/power", a.projectorPower).Methods("POST")
	r.HandleFunc("/api/status", a.status).Methods("GET")
	r.HandleFunc("/api/settings", a.getSettings).Methods("GET")
	r.HandleFunc("/api/settings", a.putSettings).Methods("PUT")

	fs := http.FileServer(http.Dir(dir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	r.PathPrefix("/events/").Handler(a.sse)
	go func() {
		for status := range eng.Status() {
			data, err := json.Marshal(status)
			if err != nil {
				log.WithError(err).Error("marshal status")
				continue
			}
			a.sse.SendMessage("/events/status", sse.SimpleMessage(string(data)))
		}
	}()

	return a
}

func (a *api) command(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	cmd, ok := printCommands[name]
	if !ok {
		http.Error(w, "unknown command '"+name+"'", http.StatusBadRequest)
		return
	}
	a.eng.Handle(cmd)
	w.WriteHeader(http.StatusAccepted)
}

// injectEvent feeds a raw hardware event into the engine, for bench runs
// without the corresponding hardware attached.
func (a *api) injectEvent(w http.ResponseWriter, req *http.Request) {
	src, ok := eventTypes[mux.Vars(req)["source"]]
	if !ok {
		http.Error(w, "unknown event source", http.StatusBadRequest)
		return
	}
	data, err := strconv.ParseUint(req.FormValue("data"), 0, 8)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.eng.Post(engine.Event{Type: src, Data: byte(data)})
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) projectorPower(w http.ResponseWriter, req *http.Request) {
	a.disp.SetPowered(req.FormValue("on") == "1")
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.eng.CurrentStatus()); err != nil {
		a.log.WithError(err).Error("encode status")
	}
}

func (a *api) getSettings(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.store.All()); err != nil {
		a.log.WithError(err).Error("encode settings")
	}
}

func (a *api) putSettings(w http.ResponseWriter, req *http.Request) {
	var vals map[string]interface{}
	if err := json.NewDecoder(req.Body).Decode(&vals); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for k, v := range vals {
		a.store.Set(k, v)
	}
	if err := a.store.Save(); err != nil {
		a.log.WithError(err).Error("save settings")
		http.Error(w, err.Error(), 500)
		return
	}
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		return false, ""
	}
	dir := base
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		a.log.WithError(err).Errorf("create '%s'", name)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		a.log.WithError(err).Errorf("write '%s'", name)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if err := os.Remove(name); err != nil {
		a.log.WithError(err).Errorf("delete '%s'", name)
		http.Error(w, err.Error(), 500)
		return
	}
}
