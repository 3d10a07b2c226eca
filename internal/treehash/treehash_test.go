package treehash

import (
	"testing"

	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

func blobID(b byte) *model.BlobInfo {
	var id ids.B3
	id[0] = b
	return &model.BlobInfo{ID: id}
}

func TestComputeIsOrderIndependent(t *testing.T) {
	a := []model.FileInfo{
		{RelativePath: "b.txt", Blob: blobID(2)},
		{RelativePath: "a.txt", Blob: blobID(1)},
	}
	b := []model.FileInfo{
		{RelativePath: "a.txt", Blob: blobID(1)},
		{RelativePath: "b.txt", Blob: blobID(2)},
	}

	if Compute(a) != Compute(b) {
		t.Fatal("tree hash should not depend on input order")
	}
}

func TestComputeIgnoresNonRegularEntries(t *testing.T) {
	withDir := []model.FileInfo{
		{RelativePath: "a.txt", Blob: blobID(1)},
		{RelativePath: "sub", Special: model.Special{Kind: model.SpecialDirectory}},
	}
	withoutDir := []model.FileInfo{
		{RelativePath: "a.txt", Blob: blobID(1)},
	}

	if Compute(withDir) != Compute(withoutDir) {
		t.Fatal("tree hash should ignore entries without a blob")
	}
}

func TestComputeDiffersOnContentChange(t *testing.T) {
	a := []model.FileInfo{{RelativePath: "a.txt", Blob: blobID(1)}}
	b := []model.FileInfo{{RelativePath: "a.txt", Blob: blobID(2)}}

	if Compute(a) == Compute(b) {
		t.Fatal("tree hash should change when blob content changes")
	}
}
