package com

import "github.com/rs/xid"

// Uid identifies transport connections in logs.
type Uid struct {
	xid.ID
}

var NilUid = Uid{xid.NilID()}

func NewUid() Uid { return Uid{xid.New()} }

func (u Uid) IsEmpty() bool { return u.IsNil() }

// Short keeps the first and the last three chars of the id.
func (u Uid) Short() string { s := u.String(); return s[:3] + "." + s[len(s)-3:] }
