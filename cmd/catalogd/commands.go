package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/catalogd/catalogd/internal/core"
	"github.com/catalogd/catalogd/internal/room"
	"github.com/catalogd/catalogd/internal/schema"
)

func openRoomFromFlags(fs *flag.FlagSet, args []string) (*room.Manager, *room.Open, string) {
	dataDir := fs.String("data", defaultDataDir(), "Data directory")
	roomName := fs.String("room", "default", "Room name or ID")
	passphrase := fs.String("passphrase", "", "Room passphrase (enables at-rest encryption; omit to be prompted for an existing encrypted room)")
	fs.Parse(args)

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		fatalf("create data dir: %v", err)
	}
	m, err := room.NewManager(*dataDir, newStdLogger())
	if err != nil {
		fatalf("open room manager: %v", err)
	}

	pass := *passphrase
	if pass == "" {
		if info, err := m.Registry().Get(*roomName); err == nil && info.Encrypted {
			pass = promptPassphrase(fmt.Sprintf("passphrase for room %q: ", *roomName))
		} else if info, err := m.Registry().GetByName(*roomName); err == nil && info.Encrypted {
			pass = promptPassphrase(fmt.Sprintf("passphrase for room %q: ", *roomName))
		}
	}

	o, err := m.Open(*roomName, pass)
	if err != nil {
		o, err = m.Create(*roomName, pass)
		if err != nil {
			fatalf("open or create room %q: %v", *roomName, err)
		}
	}
	return m, o, *roomName
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func cmdCreateCatalogue(args []string) {
	fs := flag.NewFlagSet("create-catalogue", flag.ExitOnError)
	name := fs.String("name", "", "Catalogue name")
	author := fs.String("author", "", "Catalogue author")
	tags := fs.String("tags", "", "Comma-separated tags")
	m, o, _ := openRoomFromFlags(fs, args)
	defer m.Shutdown()

	cat, err := o.DB.CreateCatalogue(schema.CatalogueModel{
		Name:   *name,
		Author: *author,
		Tags:   splitCSV(*tags),
	})
	if err != nil {
		fatalf("create catalogue: %v", err)
	}
	fmt.Printf("created catalogue %s\n", cat.ID())
}

func cmdCreateEvent(args []string) {
	fs := flag.NewFlagSet("create-event", flag.ExitOnError)
	author := fs.String("author", "", "Event author")
	start := fs.String("start", "", "Start time, RFC3339 (default: now)")
	stop := fs.String("stop", "", "Stop time, RFC3339 (default: start)")
	products := fs.String("products", "", "Comma-separated product names")
	tags := fs.String("tags", "", "Comma-separated tags")
	rating := fs.Int("rating", -1, "Event rating (0-100, omit for unset)")
	m, o, _ := openRoomFromFlags(fs, args)
	defer m.Shutdown()

	startTime := time.Now()
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fatalf("invalid --start: %v", err)
		}
		startTime = t
	}
	stopTime := startTime
	if *stop != "" {
		t, err := time.Parse(time.RFC3339, *stop)
		if err != nil {
			fatalf("invalid --stop: %v", err)
		}
		stopTime = t
	}

	model := schema.EventModel{
		Start:    startTime,
		Stop:     stopTime,
		Author:   *author,
		Products: splitCSV(*products),
		Tags:     splitCSV(*tags),
	}
	if *rating >= 0 {
		r := *rating
		model.Rating = &r
	}
	ev, err := o.DB.CreateEvent(model)
	if err != nil {
		fatalf("create event: %v", err)
	}
	fmt.Printf("created event %s\n", ev.ID())
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	m, o, roomName := openRoomFromFlags(fs, args)
	defer m.Shutdown()

	fmt.Printf("room %q:\n", roomName)
	for _, c := range o.DB.Catalogues() {
		name, _ := c.Name()
		fmt.Printf("  catalogue %s  %s\n", c.ID(), name)
	}
	for _, e := range o.DB.Events() {
		author, _ := e.Author()
		fmt.Printf("  event      %s  %s\n", e.ID(), author)
	}
}

func cmdGet(args []string) {
	if len(args) < 1 {
		fatalf("usage: catalogd get <uuid> [options]")
	}
	idStr := args[0]
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	m, o, _ := openRoomFromFlags(fs, args[1:])
	defer m.Shutdown()

	id, err := core.ParseID(idStr)
	if err != nil {
		fatalf("invalid uuid %q: %v", idStr, err)
	}
	if c, err := o.DB.GetCatalogue(id); err == nil {
		repr, _ := c.Repr()
		fmt.Println(repr)
		return
	}
	if e, err := o.DB.GetEvent(id); err == nil {
		repr, _ := e.Repr()
		fmt.Println(repr)
		return
	}
	fatalf("no catalogue or event found with id %s", idStr)
}

func cmdTag(args []string) {
	if len(args) < 1 {
		fatalf("usage: catalogd tag <uuid> [--add a,b] [--remove c]")
	}
	idStr := args[0]
	fs := flag.NewFlagSet("tag", flag.ExitOnError)
	add := fs.String("add", "", "Comma-separated tags to add")
	remove := fs.String("remove", "", "Comma-separated tags to remove")
	m, o, _ := openRoomFromFlags(fs, args[1:])
	defer m.Shutdown()

	id, err := core.ParseID(idStr)
	if err != nil {
		fatalf("invalid uuid %q: %v", idStr, err)
	}

	tags, err := retagByID(o, id, idStr, *add, *remove)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("tags: %s\n", strings.Join(tags, ", "))
}

// retagByID applies --add/--remove against whichever of a catalogue or
// event id names, returning the resulting tag set.
func retagByID(o *room.Open, id core.ID, idStr, add, remove string) ([]string, error) {
	if c, err := o.DB.GetCatalogue(id); err == nil {
		if add != "" {
			if err := c.AddTags(splitCSV(add)...); err != nil {
				return nil, err
			}
		}
		if remove != "" {
			if err := c.RemoveTags(splitCSV(remove)...); err != nil {
				return nil, err
			}
		}
		return c.Tags()
	}

	e, err := o.DB.GetEvent(id)
	if err != nil {
		return nil, fmt.Errorf("no catalogue or event found with id %s", idStr)
	}
	if add != "" {
		if err := e.AddTags(splitCSV(add)...); err != nil {
			return nil, err
		}
	}
	if remove != "" {
		if err := e.RemoveTags(splitCSV(remove)...); err != nil {
			return nil, err
		}
	}
	return e.Tags()
}

func cmdRooms(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	dataDir := fs.String("data", defaultDataDir(), "Data directory")
	fs.Parse(args)

	m, err := room.NewManager(*dataDir, newStdLogger())
	if err != nil {
		fatalf("open room manager: %v", err)
	}
	defer m.Shutdown()

	rooms, err := m.Registry().List()
	if err != nil {
		fatalf("list rooms: %v", err)
	}
	if len(rooms) == 0 {
		fmt.Println("no rooms yet")
		return
	}
	for _, r := range rooms {
		fmt.Printf("%s  %-20s  %s\n", r.ID, r.Name, r.Path)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
