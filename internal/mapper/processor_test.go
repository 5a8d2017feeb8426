package mapper

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/firehunt/internal/models"
)

func testProcessor(mappings []*Mapping, groupBy string) *Processor {
	return &Processor{
		Mappings: mappings,
		GroupBy:  groupBy,
		NewSubmission: func(event models.Event) *models.Submission {
			sub := models.NewSubmission()
			sub.Name = "test hunt"
			sub.Description = "suspicious activity"
			return sub
		},
	}
}

func TestMapEventStrictPrecondition(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"host", "user"}, Type: "hostname"},
	}
	// user is missing, so the whole mapping is skipped.
	obs, _ := MapEvent(mappings, models.Event{"host": "web01"}, time.Now(), nil)
	if len(obs) != 0 {
		t.Errorf("got %d observables, want 0", len(obs))
	}
}

func TestMapEventIgnoredValues(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"host"}, Type: "hostname", IgnoredValues: []string{"localhost"}},
		{Fields: []string{"user"}, Type: "user"},
	}
	event := models.Event{"host": "localhost", "user": "SYSTEM"}
	obs, _ := MapEvent(mappings, event, time.Now(), []string{"SYSTEM"})
	if len(obs) != 0 {
		t.Errorf("ignored values leaked: %v", obs)
	}
}

func TestMapEventListExpansion(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"ips"}, Type: "ipv4"},
	}
	event := models.Event{"ips": []any{"10.0.0.1", "10.0.0.2"}}
	obs, _ := MapEvent(mappings, event, time.Now(), nil)
	if len(obs) != 2 {
		t.Fatalf("got %d observables, want 2", len(obs))
	}
	if obs[0].Value != "10.0.0.1" || obs[1].Value != "10.0.0.2" {
		t.Errorf("values = %s, %s", obs[0].Value, obs[1].Value)
	}
}

func TestMapEventValueTemplate(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"user", "domain"}, Type: "user", Value: "$key{domain}\\$key{user}"},
	}
	event := models.Event{"user": "alice", "domain": "CORP"}
	obs, _ := MapEvent(mappings, event, time.Now(), nil)
	if len(obs) != 1 || obs[0].Value != "CORP\\alice" {
		t.Fatalf("observables = %v", obs)
	}
}

func TestMapEventDeduplicates(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"src"}, Type: "ipv4", Tags: []string{"source"}},
		{Fields: []string{"dst"}, Type: "ipv4", Tags: []string{"destination"}},
	}
	event := models.Event{"src": "10.0.0.1", "dst": "10.0.0.1"}
	obs, _ := MapEvent(mappings, event, time.Now(), nil)
	if len(obs) != 1 {
		t.Fatalf("got %d observables, want 1 merged", len(obs))
	}
	if len(obs[0].Tags) != 2 {
		t.Errorf("merged observable tags = %v", obs[0].Tags)
	}
}

func TestMapEventTimeFlag(t *testing.T) {
	eventTime := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	mappings := []*Mapping{
		{Fields: []string{"host"}, Type: "hostname", Time: true},
		{Fields: []string{"user"}, Type: "user"},
	}
	event := models.Event{"host": "web01", "user": "alice"}
	obs, _ := MapEvent(mappings, event, eventTime, nil)
	if obs[0].Time == nil || !obs[0].Time.Equal(eventTime) {
		t.Error("time flag should copy the event timestamp")
	}
	if obs[1].Time != nil {
		t.Error("unflagged mapping should not carry a timestamp")
	}
}

func TestMapEventFileDecoding(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	mappings := []*Mapping{
		{Fields: []string{"payload"}, Type: models.TypeFile, FileName: "$key{name}.bin", FileDecoder: DecoderBase64},
	}
	event := models.Event{
		"payload": base64.StdEncoding.EncodeToString(payload),
		"name":    "dropper",
	}
	obs, files := MapEvent(mappings, event, time.Now(), nil)
	if len(obs) != 0 {
		t.Errorf("file mappings should not produce observables, got %v", obs)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}
	if files[0].Name != "dropper.bin" {
		t.Errorf("file name = %q", files[0].Name)
	}
	if string(files[0].Content) != string(payload) {
		t.Errorf("file content = %x", files[0].Content)
	}
}

func TestMapEventBadFileContentSkipped(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"payload"}, Type: models.TypeFile, FileName: "x.bin", FileDecoder: DecoderBase64},
	}
	event := models.Event{"payload": "!!! not base64 !!!"}
	_, files := MapEvent(mappings, event, time.Now(), nil)
	if len(files) != 0 {
		t.Errorf("undecodable content should be skipped, got %d files", len(files))
	}
}

func TestMapEventRelationships(t *testing.T) {
	mappings := []*Mapping{
		{Fields: []string{"path"}, Type: "file_path"},
		{
			Fields: []string{"host"},
			Type:   "hostname",
			Relationships: []RelationshipMapping{
				{Type: "executed_on", TargetType: "file_path", TargetValue: "$key{path}"},
				{Type: "executed_on", TargetType: "file_path", TargetValue: "$key{missing}"},
			},
		},
	}
	event := models.Event{"host": "web01", "path": "C:\\evil.exe"}
	obs, _ := MapEvent(mappings, event, time.Now(), nil)

	var host *models.Observable
	for _, o := range obs {
		if o.Type == "hostname" {
			host = o
		}
	}
	if host == nil {
		t.Fatal("hostname observable missing")
	}
	if len(host.Relationships) != 1 {
		t.Fatalf("relationships = %v, unresolved targets must be dropped silently", host.Relationships)
	}
	rel := host.Relationships[0]
	if rel.TargetType != "file_path" || rel.TargetValue != "C:\\evil.exe" {
		t.Errorf("relationship = %+v", rel)
	}
}

func TestProcessUngrouped(t *testing.T) {
	p := testProcessor([]*Mapping{{Fields: []string{"host"}, Type: "hostname"}}, "")
	events := []models.Event{
		{"host": "web01"},
		{"host": "web02"},
	}
	subs := p.Process(events, time.Now())
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want one per event", len(subs))
	}
	if strings.Contains(subs[0].Description, "event") {
		t.Errorf("ungrouped description should not be annotated: %q", subs[0].Description)
	}
}

func TestProcessGroupByField(t *testing.T) {
	p := testProcessor([]*Mapping{{Fields: []string{"user"}, Type: "user"}}, "host")
	events := []models.Event{
		{"host": "web01", "user": "alice"},
		{"host": "web01", "user": "bob"},
		{"host": "web02", "user": "carol"},
	}
	subs := p.Process(events, time.Now())
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2 groups", len(subs))
	}

	byDesc := map[string]*models.Submission{}
	for _, sub := range subs {
		byDesc[sub.Description] = sub
	}
	web01, ok := byDesc["suspicious activity: web01 (2 events)"]
	if !ok {
		t.Fatalf("descriptions = %v", keys(byDesc))
	}
	if len(web01.Events) != 2 || len(web01.Observables) != 2 {
		t.Errorf("web01 group: %d events, %d observables", len(web01.Events), len(web01.Observables))
	}
	if _, ok := byDesc["suspicious activity: web02 (1 event)"]; !ok {
		t.Errorf("descriptions = %v", keys(byDesc))
	}
}

func TestProcessGroupAll(t *testing.T) {
	p := testProcessor([]*Mapping{{Fields: []string{"host"}, Type: "hostname"}}, GroupAll)
	events := []models.Event{
		{"host": "web01"},
		{"host": "web01"},
		{"host": "web02"},
	}
	subs := p.Process(events, time.Now())
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	sub := subs[0]
	if sub.Description != "suspicious activity (3 events)" {
		t.Errorf("description = %q", sub.Description)
	}
	// Duplicate host observables merge across grouped events.
	if len(sub.Observables) != 2 {
		t.Errorf("observables = %d, want 2 distinct", len(sub.Observables))
	}
}

func TestProcessGroupKeyList(t *testing.T) {
	p := testProcessor([]*Mapping{{Fields: []string{"user"}, Type: "user"}}, "hosts")
	events := []models.Event{
		{"hosts": []any{"web01", "web02"}, "user": "alice"},
	}
	subs := p.Process(events, time.Now())
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, list keys should join every group", len(subs))
	}
}

func TestProcessGroupFieldAbsent(t *testing.T) {
	p := testProcessor([]*Mapping{{Fields: []string{"user"}, Type: "user"}}, "host")
	events := []models.Event{
		{"user": "alice"},
	}
	subs := p.Process(events, time.Now())
	if len(subs) != 1 {
		t.Fatalf("got %d submissions, want 1", len(subs))
	}
	// Event without the group field falls back to its own submission,
	// still annotated since grouping is configured.
	if subs[0].Description != "suspicious activity (1 event)" {
		t.Errorf("description = %q", subs[0].Description)
	}
}

func TestProcessKeepsEarliestEventTime(t *testing.T) {
	early := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	p := testProcessor([]*Mapping{{Fields: []string{"host"}, Type: "hostname"}}, GroupAll)
	p.EventTime = func(event models.Event) (time.Time, bool) {
		t, ok := event["t"].(time.Time)
		return t, ok
	}
	events := []models.Event{
		{"host": "a", "t": late},
		{"host": "b", "t": early},
	}
	subs := p.Process(events, time.Now())
	if len(subs) != 1 {
		t.Fatal("expected one submission")
	}
	if !subs[0].EventTime.Equal(early) {
		t.Errorf("event time = %v, want earliest %v", subs[0].EventTime, early)
	}
}

func keys(m map[string]*models.Submission) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
