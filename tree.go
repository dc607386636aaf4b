package smb2

// Tree is the minimal surface of an SMB2 tree connection the
// connection core needs: the tree id to stamp into the header.
// TREE_CONNECT/TREE_DISCONNECT themselves are out of scope; callers
// build a Tree once TREE_CONNECT has completed.
type Tree struct {
	TreeConnectID uint32
}
