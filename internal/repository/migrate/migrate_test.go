package migrate

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
)

func TestAllMigrations(t *testing.T) {
	all := All("test_")
	want := []string{"test_objects", "test_parts", "test_chunks", "test_blocks", "test_bad_blocks"}
	if len(all) != len(want) {
		t.Fatalf("got %d migrations, want %d", len(all), len(want))
	}

	versions := map[string]bool{}
	for i, m := range all {
		if m.TableName() != want[i] {
			t.Errorf("migration %d table = %s, want %s", i, m.TableName(), want[i])
		}
		if versions[m.Version()] {
			t.Errorf("duplicate version %s", m.Version())
		}
		versions[m.Version()] = true
	}
}

func TestPartsTableIndexesStart(t *testing.T) {
	input := createPartsTable("p")

	var found bool
	for _, gsi := range input.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) != PartObjectStartIndex {
			continue
		}
		found = true
		if len(gsi.KeySchema) != 2 || aws.ToString(gsi.KeySchema[1].AttributeName) != "start" {
			t.Errorf("index %s must range on start", PartObjectStartIndex)
		}
	}
	if !found {
		t.Errorf("parts table lacks %s", PartObjectStartIndex)
	}

	for _, def := range input.AttributeDefinitions {
		if aws.ToString(def.AttributeName) == "start" && def.AttributeType != "N" {
			t.Errorf("start must be a number attribute, got %s", def.AttributeType)
		}
	}
}
