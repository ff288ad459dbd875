package storytree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesSingleRoot(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "you wake in a locked cell"})
	root := tree.GetRootNode()
	require.NotNil(t, root)
	assert.Equal(t, tree.RootID(), root.ID)
	assert.Empty(t, root.ParentID)

	depth, err := tree.GetDepth(root.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestAddNode_AppendsChildInOrder(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	root := tree.GetRootNode()

	a, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "open the door"}, nil)
	require.NoError(t, err)
	b, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "look around"}, nil)
	require.NoError(t, err)

	updatedRoot, err := tree.GetNode(root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, updatedRoot.ChildrenIDs)
}

func TestDeleteBranch_ForbiddenOnRoot(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	_, _, err := tree.DeleteBranch(tree.RootID())
	assert.ErrorAs(t, err, new(*ErrRootBranch))
}

func TestDeleteBranch_RemovesSubtreeLeafFirstAndDetachesFromParent(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	root := tree.GetRootNode()

	child, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "go north"}, nil)
	require.NoError(t, err)
	grandchild, err := tree.AddNode(child.ID, Turn{Actor: ActorWriter, Text: "a corridor opens"}, nil)
	require.NoError(t, err)

	deleted, restoring, err := tree.DeleteBranch(child.ID)
	require.NoError(t, err)
	require.Len(t, deleted, 2)
	assert.Equal(t, grandchild.ID, deleted[0].ID, "leaf must be deleted before its ancestor")
	assert.Equal(t, child.ID, deleted[1].ID)
	assert.NotEmpty(t, restoring.Revert)

	_, err = tree.GetNode(child.ID)
	assert.Error(t, err)

	updatedRoot, err := tree.GetNode(root.ID)
	require.NoError(t, err)
	assert.NotContains(t, updatedRoot.ChildrenIDs, child.ID)
}

func TestGetNodesAtTurn_ReturnsBFSFrontier(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	root := tree.GetRootNode()

	a, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "branch a"}, nil)
	require.NoError(t, err)
	b, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "branch b"}, nil)
	require.NoError(t, err)

	frontier := tree.GetNodesAtTurn(2)
	require.Len(t, frontier, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{frontier[0].ID, frontier[1].ID})
}

func TestGetDeepestNode_PicksFirstDiscoveredAtMaxDepth(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	root := tree.GetRootNode()

	a, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "a"}, nil)
	require.NoError(t, err)
	_, err = tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "b"}, nil)
	require.NoError(t, err)
	deepA, err := tree.AddNode(a.ID, Turn{Actor: ActorWriter, Text: "deeper via a"}, nil)
	require.NoError(t, err)

	deepest := tree.GetDeepestNode()
	assert.Equal(t, deepA.ID, deepest.ID)
}

func TestLowestCommonAncestor_FindsBranchPoint(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	root := tree.GetRootNode()

	a, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "a"}, nil)
	require.NoError(t, err)
	b, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "b"}, nil)
	require.NoError(t, err)
	deepA, err := tree.AddNode(a.ID, Turn{Actor: ActorWriter, Text: "deeper via a"}, nil)
	require.NoError(t, err)

	lca, err := tree.LowestCommonAncestor(deepA.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, lca)
}

func TestSerializeDeserialize_RoundTrips(t *testing.T) {
	tree := New(Turn{Actor: ActorWriter, Text: "root"})
	root := tree.GetRootNode()
	child, err := tree.AddNode(root.ID, Turn{Actor: ActorPlayer, Text: "go north"}, nil)
	require.NoError(t, err)

	data, err := tree.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, tree.RootID(), restored.RootID())

	restoredChild, err := restored.GetNode(child.ID)
	require.NoError(t, err)
	assert.Equal(t, "go north", restoredChild.Turn.Text)
}
