package task

// extends reports whether a task of kind next may be absorbed into a
// greedy batch walk that started with a task of kind first, per the
// compatibility matrix of §4.1.2. importMethod/nextImportMethod only
// matter when the kind in question is KindDocumentImport.
func extends(first Kind, firstImport ImportMethod, next Kind, nextImport ImportMethod) bool {
	switch first {
	case KindIndexCreation:
		switch next {
		case KindDocumentImport, KindSettingsUpdate, KindIndexUpdate:
			return true
		}
		return false

	case KindDocumentImport:
		switch firstImport {
		case ImportReplace:
			switch next {
			case KindDocumentImport:
				return nextImport == ImportReplace
			case KindDocumentDeletion, KindSettingsUpdate:
				return true
			}
			return false
		case ImportUpdate:
			switch next {
			case KindDocumentImport:
				return nextImport == ImportUpdate
			case KindDocumentDeletion, KindSettingsUpdate:
				return true
			}
			return false
		}
		return false

	case KindDocumentDeletion:
		switch next {
		case KindDocumentDeletion, KindDocumentImport, KindSettingsUpdate:
			return true
		}
		return false

	case KindSettingsUpdate:
		switch next {
		case KindSettingsUpdate, KindDocumentImport, KindDocumentDeletion:
			return true
		}
		return false

	case KindIndexDeletion:
		// Only earlier tasks on the same index may be absorbed, and the
		// caller (selectBatch) is responsible for marking them Canceled
		// with reason "superseded" rather than running them; extends
		// itself never walks *forward* past an IndexDeletion.
		return false

	case KindIndexSwap:
		return false
	}
	return false
}

// isStandalone reports whether kind must run alone, taking precedence
// over any other pending work (§4.1.2 priority 1-2).
func isStandalone(k Kind) bool {
	switch k {
	case KindTaskCancelation, KindSnapshotCreation, KindDumpCreation:
		return true
	}
	return false
}

// standalonePriority orders standalone kinds: cancelation beats
// snapshot/dump creation when both are pending.
func standalonePriority(k Kind) int {
	switch k {
	case KindTaskCancelation:
		return 0
	case KindSnapshotCreation, KindDumpCreation:
		return 1
	default:
		return 2
	}
}
