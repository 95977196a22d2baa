package engine

import (
	"context"
	"strings"
	"testing"

	"backbee/engine/internal/content"
)

type fakeIconizer struct{}

func (fakeIconizer) Rewrite(_ context.Context, image string) string {
	return "https://cdn.example.test/" + image
}

func TestJSONEncodeDefaultSerializesData(t *testing.T) {
	e := newEnv()
	node := content.NewContent("c1", articleDef())
	node.Label = "An article"
	node.Revision = 3
	node.State = content.StateNormal
	node.Slots["title"] = content.ScalarValue("hello")
	node.Params["rendermode"] = "teaser"

	out := e.manager.JSONEncode(context.Background(), node, FormatDefault)

	if out["uid"] != "c1" || out["revision"] != 3 || out["state"] != "NORMAL" {
		t.Fatalf("unexpected envelope: %v", out)
	}
	elements := out["elements"].(map[string]any)
	if elements["title"] != "hello" {
		t.Fatalf("elements = %v", elements)
	}
	params := out["parameters"].(map[string]any)
	if params["rendermode"] != "teaser" {
		t.Fatalf("parameters = %v, want the override visible", params)
	}
}

func TestJSONEncodeDefinitionDescribesSchemaNotData(t *testing.T) {
	e := newEnv()
	node := content.NewContent("c1", articleDef())
	node.Slots["title"] = content.ScalarValue("instance data")
	node.Params["rendermode"] = "teaser"

	out := e.manager.JSONEncode(context.Background(), node, FormatDefinition)

	if _, ok := out["uid"]; ok {
		t.Fatal("definition format must not carry instance identity")
	}
	params := out["parameters"].(map[string]any)
	if params["rendermode"] != "full" {
		t.Fatalf("parameters = %v, want compiled defaults only", params)
	}
	elements := out["elements"].(map[string]any)
	title := elements["title"].(map[string]any)
	if title["scalar"] != true {
		t.Fatalf("title schema = %v", title)
	}
}

func TestJSONEncodeConcise(t *testing.T) {
	e := newEnv()
	node := content.NewContent("c1", articleDef())
	node.Label = "An article"

	out := e.manager.JSONEncode(context.Background(), node, FormatConcise)
	if len(out) != 3 || out["uid"] != "c1" || out["type"] != "article" || out["label"] != "An article" {
		t.Fatalf("concise projection = %v", out)
	}
}

func TestJSONEncodeRewritesImageThroughIconizer(t *testing.T) {
	e := newEnv()
	e.manager.WithIconizer(fakeIconizer{})
	def := &content.Definition{
		Type:   "element/image",
		Params: map[string]any{"image": "placeholder.png"},
	}
	node := content.NewContent("img1", def)
	node.Params["image"] = "uploads/cat.png"

	out := e.manager.JSONEncode(context.Background(), node, FormatDefault)
	params := out["parameters"].(map[string]any)
	image := params["image"].(string)
	if !strings.HasPrefix(image, "https://cdn.example.test/") {
		t.Fatalf("image = %q, want it rewritten by the iconizer", image)
	}
}

func TestJSONEncodeCollection(t *testing.T) {
	e := newEnv()
	nodes := []content.Node{
		content.NewContent("c1", articleDef()),
		content.NewContentSet("s1", setDef()),
	}
	out := e.manager.JSONEncodeCollection(context.Background(), nodes, FormatConcise)
	if len(out) != 2 || out[0]["uid"] != "c1" || out[1]["uid"] != "s1" {
		t.Fatalf("collection = %v", out)
	}
}
